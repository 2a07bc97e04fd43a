// Package persona owns conversation histories and turns them into replies through an
// OpenAI-compatible chat model.
package persona

import "sync"

// Role is the author of one turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation history.
type Turn struct {
	Role Role
	Text string
}

// SessionStore keeps the most recent turns of every conversation in memory.
type SessionStore struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Turn
}

// NewSessionStore keeps up to maxRounds user/assistant pairs per conversation.
// maxRounds <= 0 keeps nothing.
func NewSessionStore(maxRounds int) *SessionStore {
	if maxRounds < 0 {
		maxRounds = 0
	}
	return &SessionStore{maxTurns: maxRounds * 2, sessions: map[string][]Turn{}}
}

// History returns a copy of the turns recorded for conversationID.
func (s *SessionStore) History(conversationID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[conversationID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append records turns and drops the oldest ones beyond capacity.
func (s *SessionStore) Append(conversationID string, turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxTurns == 0 {
		delete(s.sessions, conversationID)
		return
	}
	history := append(s.sessions[conversationID], turns...)
	if len(history) > s.maxTurns {
		history = append([]Turn(nil), history[len(history)-s.maxTurns:]...)
	}
	s.sessions[conversationID] = history
}

// Clear forgets conversationID.
func (s *SessionStore) Clear(conversationID string) {
	s.mu.Lock()
	delete(s.sessions, conversationID)
	s.mu.Unlock()
}

// Len returns the number of conversations with history.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
