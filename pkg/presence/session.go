// Package presence tracks which user/tab pairs are currently active.
// It defines the Store interface for session persistence, the Tracker that
// owns session lifecycle, and the liveness views derived from heartbeat
// timestamps.
package presence

import (
	"context"
	"errors"
	"time"
)

// ErrTabExists is returned by Store.Upsert when a concurrent creator won the
// insert race for the same tab ID. The Tracker resolves it by re-reading the
// winner's record; it never reaches callers of Track.
var ErrTabExists = errors.New("presence: session for tab already exists")

// SessionRecord represents one browser tab's session. TabID is globally
// unique; a user with several open tabs owns several records.
type SessionRecord struct {
	// TabID is the client-generated identifier for one tab/connection.
	TabID string `json:"tab_id"`

	// UserID identifies the session owner.
	UserID string `json:"user_id"`

	// Role is the owner's role at the time of the last write. Display only;
	// authorization decisions never read it.
	Role string `json:"role,omitempty"`

	// CreatedAt is set once when the session is first tracked.
	CreatedAt time.Time `json:"created_at"`

	// LastActivityAt is bumped on every track/heartbeat call and drives
	// liveness.
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store defines the interface for session persistence.
type Store interface {
	// Upsert atomically creates or refreshes the record keyed by rec.TabID.
	// On the update path the store bumps LastActivityAt, replaces UserID, and
	// replaces Role only when rec.Role is non-empty; CreatedAt is never
	// touched. Implementations that lose a concurrent create race return
	// ErrTabExists.
	Upsert(ctx context.Context, rec *SessionRecord) (*SessionRecord, error)

	// GetByTab retrieves the record for tabID. Returns nil, nil if not found.
	GetByTab(ctx context.Context, tabID string) (*SessionRecord, error)

	// Touch bumps LastActivityAt for tabID. Returns false if no record exists.
	Touch(ctx context.Context, tabID string) (bool, error)

	// Delete removes the record for tabID. Returns false if it was already gone.
	Delete(ctx context.Context, tabID string) (bool, error)

	// ListActive returns userID's records with LastActivityAt >= since,
	// newest first. A zero since returns all of the user's records.
	ListActive(ctx context.Context, userID string, since time.Time) ([]*SessionRecord, error)

	// ListAllActive returns every record with LastActivityAt >= since,
	// newest first.
	ListAllActive(ctx context.Context, since time.Time) ([]*SessionRecord, error)

	// DeleteOlderThan removes records with LastActivityAt < cutoff and
	// reports how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccountStatusActive marks an enabled account. Any other status value is
// treated as disabled for liveness purposes.
const AccountStatusActive = "active"

// Account is the slice of the accounts table the presence subsystem reads:
// identity, human-readable codes, enablement, and last login.
type Account struct {
	ID          string
	Username    string
	MemberCode  string // e.g. student number; empty for staff accounts
	Status      string
	LastLoginAt *time.Time
}

// AccountDirectory resolves session owners against the accounts table.
type AccountDirectory interface {
	// Lookup returns the account for userID. Returns nil, nil if not found.
	Lookup(ctx context.Context, userID string) (*Account, error)
}
