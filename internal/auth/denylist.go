package auth

import (
	"context"
	"sync"
	"time"
)

// memoryPurgeInterval bounds how often Revoke sweeps lapsed ids.
const memoryPurgeInterval = time.Minute

// MemoryDenylist keeps revoked token ids in process memory. Lapsed ids are
// swept by Revoke at most once per memoryPurgeInterval, or on demand by Purge.
type MemoryDenylist struct {
	mu        sync.Mutex
	now       func() time.Time
	revoked   map[string]time.Time
	lastPurge time.Time
}

// NewMemoryDenylist returns an empty denylist. A nil clock means time.Now.
func NewMemoryDenylist(now func() time.Time) *MemoryDenylist {
	if now == nil {
		now = time.Now
	}
	return &MemoryDenylist{now: now, revoked: make(map[string]time.Time)}
}

// Revoke implements Denylist.
func (m *MemoryDenylist) Revoke(_ context.Context, tokenID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastPurge) >= memoryPurgeInterval {
		m.purgeLocked(now)
	}
	if prev, ok := m.revoked[tokenID]; ok && now.Before(prev) {
		return false, nil
	}
	m.revoked[tokenID] = until
	return true, nil
}

// Revoked implements Denylist.
func (m *MemoryDenylist) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	return m.now().Before(until), nil
}

// Purge drops lapsed ids and returns how many were removed.
func (m *MemoryDenylist) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(m.now()), nil
}

// Len reports the number of tracked ids.
func (m *MemoryDenylist) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revoked)
}

func (m *MemoryDenylist) purgeLocked(now time.Time) int64 {
	var n int64
	for id, until := range m.revoked {
		if !now.Before(until) {
			delete(m.revoked, id)
			n++
		}
	}
	m.lastPurge = now
	return n
}
