// Package authz caches per-user permission sets with a short TTL and gates
// requests on them. The cache keeps admin-side permission changes effective
// within seconds without a store round-trip on every check.
package authz

import (
	"context"
	"slices"
)

// Source is the durable view of user → permission strings, typically a
// join from the user's account to its role's permission column.
type Source interface {
	// Permissions returns the user's current permission strings
	// ("resource.action"). An unknown user yields an empty set, not an error.
	Permissions(ctx context.Context, userID string) ([]string, error)
}

// Set is an unordered collection of permission strings.
type Set map[string]struct{}

// NewSet builds a Set from permission strings, ignoring empties.
func NewSet(permissions ...string) Set {
	s := make(Set, len(permissions))
	for _, p := range permissions {
		if p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports whether the permission is in the set.
func (s Set) Has(permission string) bool {
	_, ok := s[permission]
	return ok
}

// List returns the permissions sorted, for stable responses and logs.
func (s Set) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
