// Package session holds the per-session conversation state: the credential,
// the knowledge text extracted from uploads and the ordered list of turns.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/docchat/internal/models"
)

// Session is created when a user starts chatting and cleared by Reset.
// Turns are append-only and knowledge is replace-only. Safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.RWMutex
	credential string
	knowledge  string
	turns      []models.Turn
	lastUsed   time.Time
	now        func() time.Time
}

func New(credential string) *Session {
	return newWithClock(credential, time.Now)
}

func newWithClock(credential string, now func() time.Time) *Session {
	created := now().UTC()
	return &Session{
		id:         uuid.NewString(),
		createdAt:  created,
		credential: strings.TrimSpace(credential),
		lastUsed:   created,
		now:        now,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Credential returns the bearer token used for chat completions. It must never
// be logged or serialized.
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

func (s *Session) SetCredential(credential string) {
	s.mu.Lock()
	s.credential = strings.TrimSpace(credential)
	s.touchLocked()
	s.mu.Unlock()
}

func (s *Session) Knowledge() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knowledge
}

// SetKnowledge replaces the knowledge text with text extracted from the
// current upload set.
func (s *Session) SetKnowledge(text string) {
	s.mu.Lock()
	s.knowledge = text
	s.touchLocked()
	s.mu.Unlock()
}

// Append records a completed exchange and returns the stored turn.
func (s *Session) Append(user, assistant string) models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := models.Turn{
		ID:        uuid.NewString(),
		User:      user,
		Assistant: assistant,
		CreatedAt: s.now().UTC(),
	}
	s.turns = append(s.turns, turn)
	s.touchLocked()

	return turn
}

// Turns returns a copy of the conversation in insertion order.
func (s *Session) Turns() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset drops the conversation and the knowledge text. The credential stays.
func (s *Session) Reset() {
	s.mu.Lock()
	s.turns = nil
	s.knowledge = ""
	s.touchLocked()
	s.mu.Unlock()
}

// LastUsed reports when the session was last read for chatting or modified.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
}

func (s *Session) touchLocked() {
	s.lastUsed = s.now().UTC()
}
