package webauthn

import (
	"context"
	"errors"
	"time"

	"aegis/pkg/circuit"

	"golang.org/x/sync/singleflight"
)

var errMetadataUnavailable = errors.New("attestation metadata service unavailable")

// AuthenticatorMetadata is the subset of FIDO metadata-service data the
// registration ceremony enriches a new credential with: a human-readable
// device name keyed by AAGUID.
type AuthenticatorMetadata struct {
	AAGUID      [16]byte
	DeviceName  string
	Certified   bool
}

// MetadataService looks up authenticator metadata by AAGUID. It is an
// optional collaborator: Lookup must respect ctx's deadline, and a
// timeout or error degrades to "metadata absent" rather than failing
// registration.
type MetadataService interface {
	Lookup(ctx context.Context, aaguid [16]byte) (AuthenticatorMetadata, error)
}

// metadataLookupBudget bounds how long the registration ceremony waits
// on the metadata service before giving up, mirroring internal/risk's
// anomalyScorerBudget for its own optional collaborator.
const metadataLookupBudget = 2 * time.Second

// circuitMetadataService wraps a MetadataService with a circuit breaker
// and a singleflight group so concurrent registrations for the same
// authenticator model collapse into one upstream call, and repeated
// timeouts degrade to "absent" instead of a retry storm.
type circuitMetadataService struct {
	inner   MetadataService
	breaker *circuit.Breaker
	group   singleflight.Group
}

// NewCircuitMetadataService adapts inner with the breaker/singleflight
// guard. A nil inner is valid and always reports metadata absent,
// matching the behavior of a tenant that hasn't configured one.
func NewCircuitMetadataService(inner MetadataService) MetadataService {
	return &circuitMetadataService{
		inner:   inner,
		breaker: circuit.New("webauthn.metadata_service"),
	}
}

func (m *circuitMetadataService) Lookup(ctx context.Context, aaguid [16]byte) (AuthenticatorMetadata, error) {
	if m.inner == nil || m.breaker.IsOpen() {
		return AuthenticatorMetadata{}, errMetadataUnavailable
	}

	lookupCtx, cancel := context.WithTimeout(ctx, metadataLookupBudget)
	defer cancel()

	key := string(aaguid[:])
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.inner.Lookup(lookupCtx, aaguid)
	})
	if err != nil {
		m.breaker.RecordFailure()
		return AuthenticatorMetadata{}, err
	}
	m.breaker.RecordSuccess()
	return v.(AuthenticatorMetadata), nil
}
