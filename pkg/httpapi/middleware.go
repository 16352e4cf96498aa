// Package httpapi exposes the presence and authorization subsystem over
// HTTP: session/admin routes plus the middleware that feeds heartbeats and
// gates routes on permissions.
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/activitydesk/presence/pkg/auth"
	"github.com/activitydesk/presence/pkg/authz"
	"github.com/activitydesk/presence/pkg/presence"
)

const (
	// tabIDHeader carries the client-generated tab identifier.
	tabIDHeader = "X-Tab-Id"

	// requestIDHeader carries the request correlation ID.
	requestIDHeader = "X-Request-Id"
)

// RequestID assigns a correlation ID to each request, honoring one supplied
// by the client, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Heartbeat issues a detached track call for the request's user/tab pair.
// The request proceeds immediately and independently of the outcome; the
// tracker logs failures and a client without a tab header is a no-op. The
// goroutine runs on a context detached from the request so a fast response
// cannot cancel the write.
func Heartbeat(tracker *presence.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := auth.FromContext(r.Context()); id != nil {
				tabID := r.Header.Get(tabIDHeader)
				ctx := context.WithoutCancel(r.Context())
				go tracker.Track(ctx, id.UserID, tabID, id.Role)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates a route on the user holding every listed
// permission. Denials carry the missing permission list in the response
// body; infrastructure failures deny without detail.
func RequirePermission(gate *authz.Gate, permissions ...string) func(http.Handler) http.Handler {
	return requireDecision(gate, func(ctx context.Context, userID string) authz.Decision {
		return gate.RequireAll(ctx, userID, permissions...)
	})
}

// RequireAnyPermission gates a route on the user holding at least one of
// the listed permissions.
func RequireAnyPermission(gate *authz.Gate, permissions ...string) func(http.Handler) http.Handler {
	return requireDecision(gate, func(ctx context.Context, userID string) authz.Decision {
		return gate.RequireAny(ctx, userID, permissions...)
	})
}

func requireDecision(gate *authz.Gate, check func(ctx context.Context, userID string) authz.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			decision := check(r.Context(), id.UserID)
			if decision.Err != nil {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			if !decision.Allowed {
				// Drop the cached entry so a permission granted moments ago
				// takes effect on the user's next request, not after the TTL.
				gate.Invalidate(id.UserID)
				writeJSON(w, http.StatusForbidden, map[string]any{
					"error":               "forbidden",
					"missing_permissions": decision.Missing,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
