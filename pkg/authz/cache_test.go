package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records how many times each user's permissions were fetched.
type countingSource struct {
	mu          sync.Mutex
	permissions map[string][]string
	calls       map[string]int
	err         error
}

func newCountingSource(permissions map[string][]string) *countingSource {
	return &countingSource{
		permissions: permissions,
		calls:       make(map[string]int),
	}
}

func (s *countingSource) Permissions(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[userID]++
	if s.err != nil {
		return nil, s.err
	}
	return s.permissions[userID], nil
}

func (s *countingSource) callCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[userID]
}

func TestCacheGet_FetchesOncePerTTL(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
	})
	cache := NewCache(source, 5*time.Second)
	base := time.Now()
	cache.now = func() time.Time { return base }
	ctx := context.Background()

	for range 5 {
		set, err := cache.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, set.Has("students.read"))
	}
	assert.Equal(t, 1, source.callCount("u1"))
}

func TestCacheGet_RefetchesAfterExpiry(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
	})
	cache := NewCache(source, 5*time.Second)
	base := time.Now()
	cache.now = func() time.Time { return base }
	ctx := context.Background()

	_, err := cache.Get(ctx, "u1")
	require.NoError(t, err)

	// Reflect a revocation at the source; within TTL the stale grant wins.
	source.mu.Lock()
	source.permissions["u1"] = nil
	source.mu.Unlock()

	set, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, set.Has("students.read"))

	cache.now = func() time.Time { return base.Add(6 * time.Second) }
	set, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, set.Has("students.read"))
	assert.Equal(t, 2, source.callCount("u1"))
}

func TestCacheGet_EntriesIndependentPerUser(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
		"u2": {"system.manage"},
	})
	cache := NewCache(source, 0)
	ctx := context.Background()

	set1, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	set2, err := cache.Get(ctx, "u2")
	require.NoError(t, err)

	assert.True(t, set1.Has("students.read"))
	assert.False(t, set1.Has("system.manage"))
	assert.True(t, set2.Has("system.manage"))
	assert.Equal(t, 2, cache.Len())
}

func TestCacheGet_FailureNotCached(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
	})
	source.err = errors.New("db unavailable")
	cache := NewCache(source, time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u1")
	require.Error(t, err)
	assert.Zero(t, cache.Len())

	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()

	set, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, set.Has("students.read"))
	assert.Equal(t, 2, source.callCount("u1"))
}

func TestCacheInvalidate(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
		"u2": {"system.manage"},
	})
	cache := NewCache(source, time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "u2")
	require.NoError(t, err)

	cache.Invalidate("u1")
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount("u1"))
	assert.Equal(t, 1, source.callCount("u2"))
}

func TestCacheInvalidateAll(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
		"u2": {"system.manage"},
	})
	cache := NewCache(source, time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	cache.InvalidateAll()
	assert.Zero(t, cache.Len())
}

func TestCacheGet_ConcurrentAccess(t *testing.T) {
	source := newCountingSource(map[string][]string{
		"u1": {"students.read"},
	})
	cache := NewCache(source, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := cache.Get(ctx, "u1")
			assert.NoError(t, err)
			assert.True(t, set.Has("students.read"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cache.Len())
}

func TestSet(t *testing.T) {
	set := NewSet("b.read", "a.write", "", "b.read")

	assert.True(t, set.Has("a.write"))
	assert.False(t, set.Has(""))
	assert.False(t, set.Has("c.delete"))
	assert.Equal(t, []string{"a.write", "b.read"}, set.List())
}
