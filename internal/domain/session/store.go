package session

import (
	"context"
	"sync"
	"time"
)

// Store keeps one session per user identity. Implementations must bound
// idle sessions with a time-to-live; an expired session is indistinguishable
// from an absent one.
type Store interface {
	// Get returns the user's session, or nil when none exists.
	Get(ctx context.Context, userID string) (*Session, error)
	// Put creates or overwrites the user's session and refreshes its TTL.
	Put(ctx context.Context, s *Session) error
	// Delete removes the user's session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store with TTL-based eviction of idle
// sessions. A janitor goroutine sweeps expired entries; Get also filters
// them so expiry does not depend on sweep timing.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates a MemoryStore with the given idle TTL. A zero TTL
// disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// StartJanitor sweeps expired sessions at the given interval until ctx is
// cancelled.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *MemoryStore) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
		}
	}
}

func (m *MemoryStore) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.UpdatedAt) > m.ttl
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok || m.expired(s, m.now()) {
		return nil, nil
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	s.UpdatedAt = m.now()
	m.mu.Lock()
	m.sessions[s.UserID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}
