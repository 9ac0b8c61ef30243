package kafkabus

import (
	"encoding/json"

	"aegis/internal/audit"
)

// wireEvent is the JSON shape published onto Kafka, defined separately
// so the wire format can diverge from the storage model without touching
// internal/audit. It leaves out BeforeState, AfterState, Sensitive and
// RetentionUntil, and marshalEvent drops Metadata for sensitive events.
type wireEvent struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	EventType    string         `json:"event_type"`
	Category     string         `json:"category"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Sequence     int64          `json:"sequence"`
	EventHash    string         `json:"event_hash"`
	ChainHash    string         `json:"chain_hash"`
}

func marshalEvent(e audit.Event) ([]byte, error) {
	w := wireEvent{
		ID:           e.ID.String(),
		TenantID:     e.TenantID.String(),
		UserID:       e.UserID.String(),
		EventType:    string(e.EventType),
		Category:     string(e.Category),
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Timestamp:    e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		RequestID:    e.RequestID,
		ActorID:      e.ActorID,
		Sequence:     e.Sequence,
		EventHash:    e.EventHash,
		ChainHash:    e.ChainHash,
	}
	if !e.Sensitive {
		w.Metadata = e.Metadata
	}
	return json.Marshal(w)
}
