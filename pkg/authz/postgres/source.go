// Package postgres resolves user permission sets from PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/activitydesk/presence/pkg/authz"
)

// Source implements authz.Source by joining the user's account to its
// role's permissions column.
type Source struct {
	db *sql.DB
}

// New creates a new PostgreSQL permission source.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// Permissions returns the user's current permission strings. A user with no
// account or no role yields an empty set.
func (s *Source) Permissions(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT r.permissions
		FROM accounts a
		JOIN roles r ON r.id = a.role_id
		WHERE a.id = $1
	`
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	return normalizePermissions(raw), nil
}

// normalizePermissions decodes the role's permissions JSON column. The
// column has held several shapes over time: a plain array of strings, a
// JSON-encoded string containing one, an object with a "permissions" array,
// and an object whose values are the permission strings. Anything else
// decodes to the empty set.
func normalizePermissions(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
	}
	return permissionStrings(v)
}

func permissionStrings(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		if nested, ok := val["permissions"].([]any); ok {
			return permissionStrings(nested)
		}
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		slices.Sort(out)
		return out
	default:
		return nil
	}
}

// Verify interface compliance.
var _ authz.Source = (*Source)(nil)
