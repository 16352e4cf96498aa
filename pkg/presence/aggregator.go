package presence

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// ActiveUsers is a deduplicated view of who is active inside a recency
// window. SessionCount is the raw number of matching session records: one
// user with three open tabs contributes three.
type ActiveUsers struct {
	UserIDs      []string `json:"user_ids"`
	UserCodes    []string `json:"user_codes"`
	SessionCount int      `json:"session_count"`
}

// Aggregator derives "who is active right now" views from the session store.
// It reads sessions and accounts; it never mutates either.
type Aggregator struct {
	store     Store
	directory AccountDirectory
	now       func() time.Time
}

// NewAggregator creates an Aggregator over the given store and directory.
func NewAggregator(store Store, directory AccountDirectory) *Aggregator {
	return &Aggregator{
		store:     store,
		directory: directory,
		now:       time.Now,
	}
}

// ActiveUsers scans every session with activity inside the threshold and
// maps each to its owning account. UserIDs and UserCodes are deduplicated
// and sorted; sessions whose owner cannot be resolved still count toward
// SessionCount but contribute no IDs or codes. Account status is ignored
// here: a disabled account with a live session is still present. A
// non-positive threshold uses DefaultActiveWindow.
func (a *Aggregator) ActiveUsers(ctx context.Context, threshold time.Duration) (*ActiveUsers, error) {
	if threshold <= 0 {
		threshold = DefaultActiveWindow
	}

	records, err := a.store.ListAllActive(ctx, a.now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}

	ids := make(map[string]struct{})
	codes := make(map[string]struct{})
	resolved := make(map[string]*Account)

	for _, rec := range records {
		acct, seen := resolved[rec.UserID]
		if !seen {
			acct, err = a.directory.Lookup(ctx, rec.UserID)
			if err != nil {
				slog.Debug("presence: skipping session with unresolvable owner",
					"user_id", rec.UserID, "tab_id", rec.TabID, "error", err)
				acct = nil
			}
			resolved[rec.UserID] = acct
		}
		if acct == nil {
			continue
		}

		ids[acct.ID] = struct{}{}
		if acct.Username != "" {
			codes[acct.Username] = struct{}{}
		}
		if acct.MemberCode != "" {
			codes[acct.MemberCode] = struct{}{}
		}
	}

	return &ActiveUsers{
		UserIDs:      slices.Sorted(maps.Keys(ids)),
		UserCodes:    slices.Sorted(maps.Keys(codes)),
		SessionCount: len(records),
	}, nil
}
