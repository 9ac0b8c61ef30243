// Package tracing adapts go.opentelemetry.io/otel into the thin
// Start/finish shape the service layer calls at ceremony/operation
// boundaries, following the teacher pack's OTelTracer adapter.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for service-layer operations. The zero value is a
// no-op tracer so services work without an explicit WithTracer option.
type Tracer struct {
	tracer oteltrace.Tracer
}

// New adapts the named instrumentation scope from the global
// TracerProvider. Call once per service and pass via a WithTracer
// option; services never reach for the global provider themselves.
func New(instrumentation string) Tracer {
	if instrumentation == "" {
		instrumentation = "aegis"
	}
	return Tracer{tracer: otel.Tracer(instrumentation)}
}

// Start begins a span named `name` carrying tenantID/userID attributes
// (never credential/session secrets, per spec.md §5's propagation
// policy) and returns the span-bearing context plus a finish func that
// records the operation's error on the span before ending it.
func (t Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// TenantAttr and UserAttr name the two identifiers every ceremony span
// is allowed to carry.
func TenantAttr(tenantID string) attribute.KeyValue { return attribute.String("tenant_id", tenantID) }
func UserAttr(userID string) attribute.KeyValue     { return attribute.String("user_id", userID) }
