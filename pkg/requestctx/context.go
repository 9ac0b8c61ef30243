// Package requestctx provides HTTP-independent context accessors for
// request-scoped values — tenant/user/session identity, device and
// network metadata, and the request-scoped clock.
//
// This package defines context keys and getter/setter functions for
// values middleware sets and services consume. Keeping it free of
// net/http lets services import it without pulling in transport code, and
// keeps tenant/user passed explicitly through every call per spec.md's
// "no ambient thread-local request context" design note — the context
// value IS the explicit parameter, carried once at the transport edge and
// read everywhere else, never relied upon to materialize state no caller
// passed in.
//
// Usage in services (read values):
//
//	tenantID := requestctx.TenantID(ctx)
//	now := requestctx.Now(ctx)
//
// Usage at the transport edge (set values):
//
//	ctx = requestctx.WithTenantID(ctx, tenantID)
//
// Usage in tests (inject values):
//
//	ctx = requestctx.WithTime(ctx, fixedTime)
package requestctx

import (
	"context"
	"time"

	id "aegis/pkg/domain"
)

type (
	tenantIDKey          struct{}
	userIDKey            struct{}
	sessionIDKey         struct{}
	credentialIDKey      struct{}
	deviceFingerprintKey struct{}
	clientIPKey          struct{}
	userAgentKey         struct{}
	requestIDKey         struct{}
	requestTimeKey       struct{}
)

var (
	ContextKeyTenantID          = tenantIDKey{}
	ContextKeyUserID            = userIDKey{}
	ContextKeySessionID         = sessionIDKey{}
	ContextKeyCredentialID      = credentialIDKey{}
	ContextKeyDeviceFingerprint = deviceFingerprintKey{}
	ContextKeyClientIP          = clientIPKey{}
	ContextKeyUserAgent         = userAgentKey{}
	ContextKeyRequestID         = requestIDKey{}
	ContextKeyRequestTime       = requestTimeKey{}
)

// -----------------------------------------------------------------------
// Identity context
// -----------------------------------------------------------------------

func TenantID(ctx context.Context) id.TenantID {
	if v, ok := ctx.Value(ContextKeyTenantID).(id.TenantID); ok {
		return v
	}
	return id.TenantID{}
}

func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

func UserID(ctx context.Context) id.UserID {
	if v, ok := ctx.Value(ContextKeyUserID).(id.UserID); ok {
		return v
	}
	return id.UserID{}
}

func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

func SessionID(ctx context.Context) id.SessionID {
	if v, ok := ctx.Value(ContextKeySessionID).(id.SessionID); ok {
		return v
	}
	return id.SessionID{}
}

func WithSessionID(ctx context.Context, sessionID id.SessionID) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

func CredentialID(ctx context.Context) id.CredentialID {
	if v, ok := ctx.Value(ContextKeyCredentialID).(id.CredentialID); ok {
		return v
	}
	return id.CredentialID{}
}

func WithCredentialID(ctx context.Context, credentialID id.CredentialID) context.Context {
	return context.WithValue(ctx, ContextKeyCredentialID, credentialID)
}

// -----------------------------------------------------------------------
// Device and network metadata
// -----------------------------------------------------------------------

func DeviceFingerprint(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyDeviceFingerprint).(string); ok {
		return v
	}
	return ""
}

func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, ContextKeyDeviceFingerprint, fingerprint)
}

func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return v
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// -----------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------
// Request-scoped clock
// -----------------------------------------------------------------------

// Now returns the request-scoped time, falling back to time.Now() for
// non-transport contexts (workers, CLI, tests that don't inject one).
// All operations within a single request use the same "now" so audit
// timestamps, expiry checks, and risk assessments agree with each other.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed time into a context, for deterministic tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
