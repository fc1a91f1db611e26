// Package session holds the identity triple a conversation is tagged with.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context identifies the user, session and device of the current
// conversation. Values are copies; the Store is the only writer.
type Context struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
}

func (c Context) IsZero() bool {
	return c.UserID == "" && c.SessionID == "" && c.DeviceID == ""
}

func newContext() Context {
	return Context{
		UserID:    uuid.NewString(),
		SessionID: uuid.NewString(),
		DeviceID:  uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

type Store struct {
	mu      sync.RWMutex
	current Context
	onReset func(previous, next Context)
}

func New() *Store {
	return &Store{current: newContext()}
}

// SetResetHook registers a function called after every Reset, outside the
// store lock.
func (s *Store) SetResetHook(hook func(previous, next Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = hook
}

func (s *Store) Current() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reset replaces all three identifiers at once.
func (s *Store) Reset() Context {
	next := newContext()

	s.mu.Lock()
	previous := s.current
	s.current = next
	hook := s.onReset
	s.mu.Unlock()

	if hook != nil {
		hook(previous, next)
	}
	return next
}
