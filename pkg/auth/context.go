// Package auth provides the authenticated-request context for the presence
// subsystem: the Identity of a request's principal and the bearer-token
// middleware that establishes it. Token issuance lives elsewhere.
package auth

import "context"

// contextKey is a private type for context keys.
type contextKey int

const identityContextKey contextKey = iota

// Identity holds the authenticated principal of a request.
type Identity struct {
	// UserID is the account identifier from the token's subject claim.
	UserID string `json:"user_id"`

	// Role is the role name carried by the token. Display and session
	// snapshots only; authorization reads the permission cache instead.
	Role string `json:"role,omitempty"`
}

// WithIdentity adds the identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext retrieves the identity from the context, or nil for
// unauthenticated requests.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}
