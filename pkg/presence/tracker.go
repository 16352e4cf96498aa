package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultActiveWindow is the recency window behind StatusFor's IsActive
// signal and the fallback threshold for ListActive.
const DefaultActiveWindow = 5 * time.Minute

// TrackOutcome reports how a Track call resolved.
type TrackOutcome int

const (
	// TrackOK means the record was created or refreshed.
	TrackOK TrackOutcome = iota

	// TrackConflictResolved means a concurrent caller created the record
	// first and the existing record was returned instead.
	TrackConflictResolved

	// TrackSkipped means userID or tabID was empty; nothing to track.
	TrackSkipped

	// TrackFailed means the store failed. The error is logged, never returned.
	TrackFailed
)

// String returns the outcome name for logging.
func (o TrackOutcome) String() string {
	switch o {
	case TrackOK:
		return "ok"
	case TrackConflictResolved:
		return "conflict_resolved"
	case TrackSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// HeartbeatOutcome reports how a Heartbeat call resolved.
type HeartbeatOutcome int

const (
	// HeartbeatOK means the session's activity timestamp was bumped.
	HeartbeatOK HeartbeatOutcome = iota

	// HeartbeatMissing means no session exists for the tab. Expected after
	// cleanup, logout in another tab, or a login that never completed.
	HeartbeatMissing

	// HeartbeatFailed means the store failed. Logged, never returned.
	HeartbeatFailed
)

// String returns the outcome name for logging.
func (o HeartbeatOutcome) String() string {
	switch o {
	case HeartbeatOK:
		return "ok"
	case HeartbeatMissing:
		return "missing"
	default:
		return "failed"
	}
}

// RemoveOutcome reports how a Remove call resolved. Both SessionRemoved and
// SessionAlreadyGone satisfy the caller's intent that no session remain.
type RemoveOutcome int

const (
	// SessionRemoved means a record existed and was deleted.
	SessionRemoved RemoveOutcome = iota

	// SessionAlreadyGone means no record existed.
	SessionAlreadyGone

	// RemoveFailed means the store failed. Logged, never returned.
	RemoveFailed
)

// String returns the outcome name for logging.
func (o RemoveOutcome) String() string {
	switch o {
	case SessionRemoved:
		return "removed"
	case SessionAlreadyGone:
		return "already_gone"
	default:
		return "failed"
	}
}

// ActivityStatus is a liveness summary for a single user. IsActive combines
// two independent signals: the most recent session's heartbeat falling inside
// the tracker's active window, AND the account being enabled.
type ActivityStatus struct {
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	AccountStatus string     `json:"account_status"`
	LastLogin     *time.Time `json:"last_login"`
	LastActivity  *time.Time `json:"last_activity"`
	IsActive      bool       `json:"is_active"`
	SessionCount  int        `json:"session_count"`
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// ActiveWindow is the fixed recency window for StatusFor and the default
	// threshold for ListActive. Zero means DefaultActiveWindow.
	ActiveWindow time.Duration
}

// Tracker owns the lifecycle of session records. It is the only component
// that mutates them; aggregation and cleanup read through the same Store.
//
// Track, Heartbeat, and Remove are invoked as side effects of request
// handling: they never return errors, and store failures surface only as
// outcome values plus a log line.
type Tracker struct {
	store        Store
	directory    AccountDirectory
	activeWindow time.Duration
	now          func() time.Time
}

// NewTracker creates a Tracker over the given store and account directory.
func NewTracker(store Store, directory AccountDirectory, cfg TrackerConfig) *Tracker {
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = DefaultActiveWindow
	}
	return &Tracker{
		store:        store,
		directory:    directory,
		activeWindow: cfg.ActiveWindow,
		now:          time.Now,
	}
}

// Track creates or refreshes the session for the user/tab pair. A non-empty
// role replaces the stored role snapshot. Losing a concurrent create race for
// a brand-new tab is resolved by returning the winner's record, so callers
// always get a record back unless the input was empty or the store failed.
func (t *Tracker) Track(ctx context.Context, userID, tabID, role string) (*SessionRecord, TrackOutcome) {
	if userID == "" || tabID == "" {
		return nil, TrackSkipped
	}

	now := t.now()
	rec, err := t.store.Upsert(ctx, &SessionRecord{
		TabID:          tabID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      now,
		LastActivityAt: now,
	})
	if errors.Is(err, ErrTabExists) {
		existing, getErr := t.store.GetByTab(ctx, tabID)
		if getErr == nil && existing != nil {
			slog.Debug("presence: track lost create race, returning existing session",
				"tab_id", tabID, "user_id", userID)
			return existing, TrackConflictResolved
		}
		slog.Warn("presence: track conflict re-read failed",
			"tab_id", tabID, "user_id", userID, "error", getErr)
		return nil, TrackFailed
	}
	if err != nil {
		slog.Warn("presence: track failed", "tab_id", tabID, "user_id", userID, "error", err)
		return nil, TrackFailed
	}
	return rec, TrackOK
}

// Heartbeat bumps the session's activity timestamp. It is the steady-state
// path and must stay cheap: one keyed update, no reads on success.
func (t *Tracker) Heartbeat(ctx context.Context, tabID string) HeartbeatOutcome {
	if tabID == "" {
		return HeartbeatMissing
	}

	ok, err := t.store.Touch(ctx, tabID)
	if err != nil {
		slog.Warn("presence: heartbeat failed", "tab_id", tabID, "error", err)
		return HeartbeatFailed
	}
	if !ok {
		slog.Debug("presence: heartbeat for unknown tab", "tab_id", tabID)
		return HeartbeatMissing
	}
	return HeartbeatOK
}

// Remove deletes the session for tabID, typically on logout.
func (t *Tracker) Remove(ctx context.Context, tabID string) RemoveOutcome {
	if tabID == "" {
		return SessionAlreadyGone
	}

	existed, err := t.store.Delete(ctx, tabID)
	if err != nil {
		slog.Warn("presence: remove failed", "tab_id", tabID, "error", err)
		return RemoveFailed
	}
	if !existed {
		return SessionAlreadyGone
	}
	slog.Debug("presence: session removed", "tab_id", tabID)
	return SessionRemoved
}

// ListActive returns the user's sessions with activity inside the threshold,
// newest first. A non-positive threshold uses the tracker's active window.
func (t *Tracker) ListActive(ctx context.Context, userID string, threshold time.Duration) ([]*SessionRecord, error) {
	if threshold <= 0 {
		threshold = t.activeWindow
	}
	sessions, err := t.store.ListActive(ctx, userID, t.now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	return sessions, nil
}

// StatusFor derives a liveness summary for the user. Returns nil, nil when
// no account exists. LastActivity reflects the newest session regardless of
// age; IsActive and SessionCount use the tracker's fixed active window.
func (t *Tracker) StatusFor(ctx context.Context, userID string) (*ActivityStatus, error) {
	acct, err := t.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if acct == nil {
		return nil, nil
	}

	sessions, err := t.store.ListActive(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	status := &ActivityStatus{
		UserID:        acct.ID,
		Username:      acct.Username,
		AccountStatus: acct.Status,
		LastLogin:     acct.LastLoginAt,
	}

	now := t.now()
	for _, sess := range sessions {
		if now.Sub(sess.LastActivityAt) < t.activeWindow {
			status.SessionCount++
		}
	}
	if len(sessions) > 0 {
		last := sessions[0].LastActivityAt
		status.LastActivity = &last
		status.IsActive = now.Sub(last) < t.activeWindow && acct.Status == AccountStatusActive
	}
	return status, nil
}
