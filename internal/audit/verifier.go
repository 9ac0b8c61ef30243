package audit

import (
	"context"
	"fmt"

	id "aegis/pkg/domain"
)

// TamperReport describes the outcome of walking a tenant's chain from
// genesis. A non-nil BrokenAt means verification stopped at that
// sequence number because its recomputed hash did not match the stored
// one — every event from there on is suspect.
type TamperReport struct {
	TenantID      id.TenantID
	EventsChecked int64
	BrokenAt      *int64
	Reason        string
}

// VerifyChain recomputes EventHash and ChainHash for every event in
// tenantID's chain, in sequence order, per spec.md §4.5 "Integrity
// verification". The first mismatch is reported; verification does not
// continue past it since every following chain-hash is necessarily
// wrong too.
func VerifyChain(ctx context.Context, store Store, tenantID id.TenantID) (TamperReport, error) {
	report := TamperReport{TenantID: tenantID}
	prevHash := genesisChainHash
	var broken bool

	err := store.Walk(ctx, tenantID, func(e Event) error {
		if broken {
			return nil
		}
		report.EventsChecked++

		wantEventHash := eventHash(e)
		if wantEventHash != e.EventHash {
			seq := e.Sequence
			report.BrokenAt = &seq
			report.Reason = fmt.Sprintf("event_hash mismatch at sequence %d", seq)
			broken = true
			return nil
		}

		wantChainHash := chainHash(prevHash, e.EventHash)
		if wantChainHash != e.ChainHash {
			seq := e.Sequence
			report.BrokenAt = &seq
			report.Reason = fmt.Sprintf("chain_hash mismatch at sequence %d", seq)
			broken = true
			return nil
		}

		prevHash = e.ChainHash
		return nil
	})
	if err != nil {
		return TamperReport{}, fmt.Errorf("walk chain for tenant %s: %w", tenantID, err)
	}

	return report, nil
}

// Tampered reports whether the verification found a broken link.
func (r TamperReport) Tampered() bool { return r.BrokenAt != nil }
