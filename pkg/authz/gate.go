package authz

import (
	"context"
	"log/slog"
)

// Decision is the outcome of a permission check. Err is set only for
// infrastructure failures while consulting the cache; a deny with a nil Err
// means the fetch succeeded and Missing lists the absent permissions. Only
// the latter is safe to surface verbatim to a client.
type Decision struct {
	Allowed bool
	Missing []string
	Err     error
}

// Gate decides allow/deny for required permissions. It is a pure decision
// function over the cache's current view; every failure mode resolves to an
// explicit deny before a response is produced.
type Gate struct {
	cache *Cache
}

// NewGate creates a Gate over the cache.
func NewGate(cache *Cache) *Gate {
	return &Gate{cache: cache}
}

// RequireAll denies unless every permission is present, reporting exactly
// which ones were missing. A fetch failure denies with Err set (fail closed).
func (g *Gate) RequireAll(ctx context.Context, userID string, permissions ...string) Decision {
	set, err := g.cache.Get(ctx, userID)
	if err != nil {
		slog.Error("authz: permission fetch failed, denying", "user_id", userID, "error", err)
		return Decision{Err: err}
	}

	var missing []string
	for _, p := range permissions {
		if !set.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		slog.Info("authz: permissions missing", "user_id", userID, "missing", missing)
		return Decision{Missing: missing}
	}
	return Decision{Allowed: true}
}

// RequireAny allows when at least one permission is present. A fetch failure
// denies with Err set (fail closed).
func (g *Gate) RequireAny(ctx context.Context, userID string, permissions ...string) Decision {
	set, err := g.cache.Get(ctx, userID)
	if err != nil {
		slog.Error("authz: permission fetch failed, denying", "user_id", userID, "error", err)
		return Decision{Err: err}
	}

	for _, p := range permissions {
		if set.Has(p) {
			return Decision{Allowed: true}
		}
	}
	slog.Info("authz: no matching permission", "user_id", userID, "required_any", permissions)
	return Decision{Missing: permissions}
}

// Invalidate drops the user's cached permissions. The HTTP layer calls this
// after a deny so a permission granted moments ago is honored on the user's
// next request rather than after the TTL.
func (g *Gate) Invalidate(userID string) {
	g.cache.Invalidate(userID)
}
