package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map. It backs tests and
// single-process deployments that do not need durable sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionRecord),
		now:      time.Now,
	}
}

// Upsert atomically creates or refreshes the record for rec.TabID. The map
// mutation happens under one lock, so the create race never surfaces here
// and ErrTabExists is never returned.
func (s *MemoryStore) Upsert(_ context.Context, rec *SessionRecord) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.sessions[rec.TabID]
	if !ok {
		stored := *rec
		stored.CreatedAt = now
		stored.LastActivityAt = now
		s.sessions[rec.TabID] = &stored
		out := stored
		return &out, nil
	}

	existing.UserID = rec.UserID
	if rec.Role != "" {
		existing.Role = rec.Role
	}
	existing.LastActivityAt = now
	out := *existing
	return &out, nil
}

// GetByTab retrieves the record for tabID. Returns nil, nil if not found.
func (s *MemoryStore) GetByTab(_ context.Context, tabID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[tabID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	out := *rec
	return &out, nil
}

// Touch bumps LastActivityAt for tabID. Returns false if no record exists.
func (s *MemoryStore) Touch(_ context.Context, tabID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[tabID]
	if !ok {
		return false, nil
	}
	rec.LastActivityAt = s.now()
	return true, nil
}

// Delete removes the record for tabID. Returns false if it was already gone.
func (s *MemoryStore) Delete(_ context.Context, tabID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[tabID]
	delete(s.sessions, tabID)
	return ok, nil
}

// ListActive returns userID's records with LastActivityAt >= since, newest
// first.
func (s *MemoryStore) ListActive(_ context.Context, userID string, since time.Time) ([]*SessionRecord, error) {
	return s.list(userID, since), nil
}

// ListAllActive returns every record with LastActivityAt >= since, newest
// first.
func (s *MemoryStore) ListAllActive(_ context.Context, since time.Time) ([]*SessionRecord, error) {
	return s.list("", since), nil
}

func (s *MemoryStore) list(userID string, since time.Time) []*SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if rec.LastActivityAt.Before(since) {
			continue
		}
		out := *rec
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	return result
}

// DeleteOlderThan removes records with LastActivityAt < cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for tabID, rec := range s.sessions {
		if rec.LastActivityAt.Before(cutoff) {
			delete(s.sessions, tabID)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryDirectory implements AccountDirectory from a fixed account map,
// keyed by account ID. It backs tests and standalone deployments.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryDirectory creates a directory holding the given accounts.
func NewMemoryDirectory(accounts ...*Account) *MemoryDirectory {
	d := &MemoryDirectory{accounts: make(map[string]*Account, len(accounts))}
	for _, acct := range accounts {
		d.accounts[acct.ID] = acct
	}
	return d
}

// Put adds or replaces an account.
func (d *MemoryDirectory) Put(acct *Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[acct.ID] = acct
}

// Lookup returns the account for userID. Returns nil, nil if not found.
func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acct, ok := d.accounts[userID]
	if !ok {
		return nil, nil //nolint:nilnil // AccountDirectory specifies nil,nil for not-found
	}
	out := *acct
	return &out, nil
}

// Verify interface compliance.
var (
	_ Store            = (*MemoryStore)(nil)
	_ AccountDirectory = (*MemoryDirectory)(nil)
)
