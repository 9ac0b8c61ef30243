package audit

import (
	"context"
	"log/slog"

	"aegis/pkg/circuit"
	"aegis/pkg/requestctx"
)

// AlertSink forwards security-category events to an external SIEM or
// alerting pipeline. Unlike Store.Append, sink delivery is best-effort:
// a sink outage must never block or fail the audited operation, since
// the chain itself already persisted durably before the sink is
// notified.
type AlertSink interface {
	Notify(ctx context.Context, e Event) error
}

// Service is the component boundary the rest of the module calls to
// record audit events. It guarantees the write path of spec.md §4.5
// (persist first, fail closed) and layers a best-effort SIEM fan-out
// for security-category events on top, gated by a circuit breaker so a
// dead sink degrades to dropped alerts rather than audit-log backpressure.
type Service struct {
	store   Store
	sink    AlertSink
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithAlertSink(sink AlertSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		breaker: circuit.New("audit-alert-sink"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends e to tenant e.TenantID's chain. Persistence failure is
// always returned to the caller — the originating operation must not
// proceed as if the audit succeeded. On success, security-category
// events are forwarded to the alert sink best-effort.
func (s *Service) Record(ctx context.Context, e Event) (Event, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestctx.Now(ctx)
	}
	stored, err := s.store.Append(ctx, e)
	if err != nil {
		return Event{}, err
	}

	if s.sink != nil && stored.Category == CategorySecurity && !s.breaker.IsOpen() {
		go s.notify(stored)
	}

	return stored, nil
}

func (s *Service) notify(e Event) {
	ctx := context.Background()
	if err := s.sink.Notify(ctx, e); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.Warn("audit alert sink circuit opened", "sink_error", err)
		}
		return
	}
	s.breaker.RecordSuccess()
}
