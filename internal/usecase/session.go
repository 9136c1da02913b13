package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"triage-ai/internal/domain"
)

// Session is one in-memory conversation: an append-only message history
// and the name of the agent that handles the next user input.
type Session struct {
	mu        sync.RWMutex
	ID        string // ULID
	msgs      []domain.Message
	active    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates an empty session whose active agent is entry.
func NewSession(entry string) *Session {
	now := time.Now()
	return &Session{
		ID:        generateULID(now),
		msgs:      make([]domain.Message, 0),
		active:    entry,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		s.msgs = append(s.msgs, m)
	}
	s.UpdatedAt = now
}

// Messages returns a copy of the history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.msgs))
	copy(cp, s.msgs)
	return cp
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Active returns the name of the agent that handles the next input.
func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive records a handoff to the agent called name.
func (s *Session) SetActive(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
	s.UpdatedAt = time.Now()
}

// Trim drops whole turns from the front of the history while it counts more
// than maxTokens. A turn runs from a user message up to the next one. The
// latest turn is always kept. It returns the number of messages dropped;
// maxTokens <= 0 disables trimming.
func (s *Session) Trim(counter domain.TokenCounter, maxTokens int) int {
	if maxTokens <= 0 || counter == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for counter.CountMessages(s.msgs) > maxTokens {
		next := nextTurnStart(s.msgs)
		if next <= 0 {
			break
		}
		s.msgs = s.msgs[next:]
		dropped += next
	}
	return dropped
}

// nextTurnStart returns the index of the second user message, or -1 when the
// history holds at most one turn.
func nextTurnStart(msgs []domain.Message) int {
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}
