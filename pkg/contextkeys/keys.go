// Package contextkeys holds the shared request-context keys, so the
// guard and handlers agree on where the identity lives without import
// cycles.
package contextkeys

import (
	"context"

	"github.com/knowledgeops/stacks/pkg/auth"
)

// Key is the private type for context keys in this module.
type Key string

const (
	// IdentityKey carries the refreshed *auth.Identity set by the
	// guard's authentication middleware.
	IdentityKey Key = "identity"

	// SessionIDKey carries the session id the identity came from.
	SessionIDKey Key = "session_id"

	// RequestIDKey carries the per-request correlation id.
	RequestIDKey Key = "request_id"
)

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFrom extracts the identity, or nil when unauthenticated.
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(IdentityKey).(*auth.Identity)
	return identity
}

// WithSessionID attaches the session id to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// SessionIDFrom extracts the session id, or "".
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// WithRequestID attaches the request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom extracts the request id, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
