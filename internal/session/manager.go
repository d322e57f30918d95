package session

import (
	"errors"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session: not found")

// Manager is the in-memory registry of live sessions. Nothing is persisted;
// a restarted process starts with no sessions.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Manager{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create(credential string) *Session {
	sess := newWithClock(credential, m.now)

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	return sess
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if m.now().UTC().Sub(sess.LastUsed()) > m.ttl {
		m.Delete(id)
		return nil, ErrSessionNotFound
	}

	sess.Touch()
	return sess, nil
}

// Delete resets and forgets the session. Deleting an unknown id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		sess.Reset()
		sess.SetCredential("")
	}
}

// Sweep removes sessions idle for longer than the TTL and returns how many were dropped.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	expired := make([]*Session, 0)
	for id, sess := range m.sessions {
		if now.UTC().Sub(sess.LastUsed()) > m.ttl {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Reset()
		sess.SetCredential("")
	}

	return len(expired)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
