package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSweep_DeletesOnlyStaleSessions(t *testing.T) {
	store := NewMemoryStore()
	sweeper := NewSweeper(store, 0)
	ctx := context.Background()

	now := time.Now()
	ages := map[string]time.Duration{
		"tab-1h":  time.Hour,
		"tab-23h": 23 * time.Hour,
		"tab-25h": 25 * time.Hour,
		"tab-48h": 48 * time.Hour,
	}
	for tab, age := range ages {
		seedSession(t, store, "u1", tab, now.Add(-age))
	}

	deleted, err := sweeper.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.ListActive(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, rec := range remaining {
		assert.Contains(t, []string{"tab-1h", "tab-23h"}, rec.TabID)
		// Survivors keep their original activity timestamps.
		assert.WithinDuration(t, now.Add(-ages[rec.TabID]), rec.LastActivityAt, time.Second)
	}

	// Idempotent: a second pass deletes nothing.
	deleted, err = sweeper.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSweep_DefaultRetention(t *testing.T) {
	store := NewMemoryStore()
	sweeper := NewSweeper(store, 0)
	ctx := context.Background()

	now := time.Now()
	seedSession(t, store, "u1", "tab-old", now.Add(-25*time.Hour))
	seedSession(t, store, "u1", "tab-new", now.Add(-time.Hour))

	deleted, err := sweeper.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSweep_StoreError(t *testing.T) {
	store := &stubStore{
		deleteOlderThan: func(_ context.Context, _ time.Time) (int64, error) {
			return 0, errors.New("db unavailable")
		},
	}
	sweeper := NewSweeper(store, 0)

	deleted, err := sweeper.Sweep(context.Background(), 0)
	assert.Error(t, err)
	assert.Zero(t, deleted)
}

func TestSweeper_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	sweeper := NewSweeper(NewMemoryStore(), 0)
	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()
}

func TestSweeper_StartInvalidSchedule(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(), 0)
	assert.Error(t, sweeper.Start("not a schedule"))
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(), 0)
	sweeper.Stop()
}
