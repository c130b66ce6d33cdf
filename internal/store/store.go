// Package store holds the client's in-memory view of conversation sessions.
// It is the source of truth for the UI between backend round-trips: every
// mutation is applied fully before observers are notified, so a reader never
// sees a half-updated session.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-assigned message identifiers awaiting server
// confirmation.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh temporary message identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single chat message
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	Streaming bool // the message is the mutable tail of an in-flight exchange
}

// Temporary reports whether the message identifier is client-assigned.
func (m Message) Temporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Session represents a chat session
type Session struct {
	ID        string
	Title     string
	AgentID   string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Observer is called with the identifier of the session that changed. The
// mutation is fully applied before the observer runs.
type Observer func(sessionID string)

// Store is the in-memory session table.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	active    string
	observers []Observer
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Subscribe registers an observer for session changes.
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Sessions returns copies of all sessions ordered most-recently-updated
// first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return copySession(sess), true
}

// ActiveID returns the identifier of the active session, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive selects a session. Selection is purely local and synchronous.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.active = id
	s.unlockAndNotify(id)
	return true
}

// Add inserts a session, replacing any previous entry with the same ID.
func (s *Store) Add(sess Session) {
	s.mu.Lock()
	stored := copySession(&sess)
	s.sessions[sess.ID] = &stored
	s.unlockAndNotify(sess.ID)
}

// Upsert inserts a session or refreshes the title and timestamps of an
// existing one, preserving its cached message list. Used when seeding from
// an authoritative thread listing.
func (s *Store) Upsert(sess Session) {
	s.mu.Lock()
	if existing, ok := s.sessions[sess.ID]; ok {
		existing.Title = sess.Title
		existing.AgentID = sess.AgentID
		existing.CreatedAt = sess.CreatedAt
		existing.UpdatedAt = sess.UpdatedAt
	} else {
		stored := copySession(&sess)
		s.sessions[sess.ID] = &stored
	}
	s.unlockAndNotify(sess.ID)
}

// Remove deletes a session. When the active session is removed, the most
// recently updated remaining session becomes active (or none). Returns the
// new active session identifier.
func (s *Store) Remove(id string) string {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		active := s.active
		s.mu.Unlock()
		return active
	}
	delete(s.sessions, id)
	if s.active == id {
		s.active = ""
		var latest time.Time
		for sid, sess := range s.sessions {
			if s.active == "" || sess.UpdatedAt.After(latest) {
				s.active = sid
				latest = sess.UpdatedAt
			}
		}
	}
	active := s.active
	s.unlockAndNotify(id)
	return active
}

// AppendMessage appends a message to a session.
func (s *Store) AppendMessage(sessionID string, msg Message) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Messages = append(sess.Messages, msg)
	s.unlockAndNotify(sessionID)
	return true
}

// ReplaceMessage replaces the message with identifier id wholesale. The
// replacement may carry a different identifier, which is how a temporary
// message adopts its server-assigned one.
func (s *Store) ReplaceMessage(sessionID, id string, msg Message) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == id {
			sess.Messages[i] = msg
			s.unlockAndNotify(sessionID)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// RemoveMessage deletes one message from a session.
func (s *Store) RemoveMessage(sessionID, id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == id {
			sess.Messages = append(sess.Messages[:i], sess.Messages[i+1:]...)
			s.unlockAndNotify(sessionID)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// SetMessages replaces a session's entire message list, used after an
// authoritative fetch.
func (s *Store) SetMessages(sessionID string, msgs []Message) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Messages = append([]Message(nil), msgs...)
	s.unlockAndNotify(sessionID)
	return true
}

// Rename applies a new title and marks the session updated now. It returns
// the previous title and updated-timestamp so a failed backend call can
// restore them exactly.
func (s *Store) Rename(sessionID, title string) (prevTitle string, prevUpdated time.Time, ok bool) {
	s.mu.Lock()
	sess, found := s.sessions[sessionID]
	if !found {
		s.mu.Unlock()
		return "", time.Time{}, false
	}
	prevTitle, prevUpdated = sess.Title, sess.UpdatedAt
	sess.Title = title
	sess.UpdatedAt = time.Now()
	s.unlockAndNotify(sessionID)
	return prevTitle, prevUpdated, true
}

// RestoreTitle reverts a session to a previously observed title and
// updated-timestamp after a failed rename.
func (s *Store) RestoreTitle(sessionID, title string, updated time.Time) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Title = title
	sess.UpdatedAt = updated
	s.unlockAndNotify(sessionID)
	return true
}

// Touch marks a session as most-recently-updated.
func (s *Store) Touch(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.UpdatedAt = time.Now()
	s.unlockAndNotify(sessionID)
	return true
}

// unlockAndNotify releases the lock, then runs observers. The mutation is
// complete before any observer can read, and observers may call back into
// the store.
func (s *Store) unlockAndNotify(sessionID string) {
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(sessionID)
	}
}

func copySession(sess *Session) Session {
	out := *sess
	out.Messages = append([]Message(nil), sess.Messages...)
	return out
}
