package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalProjection is the fixed-order projection hashed into
// EventHash. Field order and presence must never change once events
// exist in production chains, or recomputed hashes will stop matching
// stored ones.
type canonicalProjection struct {
	UserID       string         `json:"user"`
	TenantID     string         `json:"tenant"`
	EventType    string         `json:"event_type"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
}

// eventHash computes SHA-256 over the canonical JSON projection of e,
// per spec.md §4.5 step 2. Metadata keys are not independently sorted
// here: encoding/json already sorts map keys when marshaling, so the
// byte representation is stable across calls.
func eventHash(e Event) string {
	projection := canonicalProjection{
		UserID:       e.UserID.String(),
		TenantID:     e.TenantID.String(),
		EventType:    string(e.EventType),
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Timestamp:    e.Timestamp.UTC().Format(rfc3339Nano),
		Metadata:     e.Metadata,
	}
	raw, err := json.Marshal(projection)
	if err != nil {
		// Metadata is caller-controlled but always JSON-marshalable by
		// construction (map[string]any built from primitives); a
		// marshal failure here means a caller broke that contract.
		panic("audit: canonical projection failed to marshal: " + err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// chainHash computes SHA-256(previousChainHash || eventHash) per
// spec.md §4.5 step 3.
func chainHash(previousChainHash, eHash string) string {
	sum := sha256.Sum256([]byte(previousChainHash + eHash))
	return hex.EncodeToString(sum[:])
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

// genesisChainHash is the previous-chain-hash fed into the first event
// of a tenant's chain.
const genesisChainHash = ""
