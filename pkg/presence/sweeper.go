package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long an idle session survives before a sweep
// deletes it.
const DefaultRetention = 24 * time.Hour

// Sweeper deletes session records whose last activity predates a retention
// cutoff. It needs no mutual exclusion with concurrent track/heartbeat
// calls: the cutoff comparison happens at delete time in the store, so a
// record heartbeated moments before the sweep survives.
type Sweeper struct {
	store     Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewSweeper creates a Sweeper. A non-positive retention means
// DefaultRetention.
func NewSweeper(store Store, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		now:       time.Now,
	}
}

// Sweep deletes every session idle longer than retention and reports the
// count. A non-positive retention uses the configured default. Running it
// twice in a row deletes nothing the second time. Both the scheduled timer
// and the admin maintenance endpoint land here.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = s.retention
	}

	runID := uuid.NewString()
	deleted, err := s.store.DeleteOlderThan(ctx, s.now().Add(-retention))
	if err != nil {
		slog.Warn("presence: sweep failed", "run_id", runID, "error", err)
		return 0, fmt.Errorf("sweeping stale sessions: %w", err)
	}
	if deleted > 0 {
		slog.Info("presence: swept stale sessions",
			"run_id", runID, "deleted", deleted, "retention", retention)
	}
	return deleted, nil
}

// Start schedules periodic sweeps with the configured retention. The
// schedule uses cron syntax, e.g. "@every 6h". Failures are logged inside
// Sweep and the next run retries.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		_, _ = s.Sweep(context.Background(), 0)
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
// It is safe to call Stop even if Start was never called.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
