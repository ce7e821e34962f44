package conversation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for session operations. Check with errors.Is().
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one conversation with its bounded history window. The Window
// is safe for concurrent use; the remaining fields are immutable after
// creation.
type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Window    *Window   `json:"-"`
}

// Store tracks active sessions in memory. Sessions do not survive a restart:
// retrieval state lives in the knowledge base, so a fresh session only loses
// the resolution of pronouns against recent turns.
//
// Note: The zero value is NOT useful - use NewStore() to create instances.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	maxTurns int
}

// NewStore creates a session store whose sessions carry windows of maxTurns
// exchanges. Non-positive values fall back to DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		sessions: make(map[uuid.UUID]*Session),
		maxTurns: maxTurns,
	}
}

// Create registers a new session with a fresh window and random ID.
func (s *Store) Create() *Session {
	sess := &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		Window:    NewWindow(s.maxTurns),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session with the given ID, or ErrSessionNotFound.
func (s *Store) Get(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session with the given ID, or returns
// ErrSessionNotFound if no such session exists.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns all sessions ordered by creation time, oldest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
