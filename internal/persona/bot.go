package persona

import (
	"context"
	"errors"
)

// Bot is a named persona that answers each conversation with its own history.
type Bot struct {
	name      string
	generator Generator
	sessions  *SessionStore
}

// NewBot creates a Bot.
func NewBot(name string, generator Generator, sessions *SessionStore) *Bot {
	if sessions == nil {
		sessions = NewSessionStore(0)
	}
	return &Bot{name: name, generator: generator, sessions: sessions}
}

// Name returns the persona's display name.
func (b *Bot) Name() string {
	return b.name
}

// Reply generates the answer to text and records both turns. Nothing is recorded
// when generation fails.
func (b *Bot) Reply(ctx context.Context, conversationID, text string) (string, error) {
	if b.generator == nil {
		return "", errors.New("persona: generator not configured")
	}
	answer, err := b.generator.Generate(ctx, b.sessions.History(conversationID), text)
	if err != nil {
		return "", err
	}
	b.sessions.Append(conversationID,
		Turn{Role: RoleUser, Text: text},
		Turn{Role: RoleAssistant, Text: answer},
	)
	return answer, nil
}

// Clear forgets the history of conversationID.
func (b *Bot) Clear(conversationID string) {
	b.sessions.Clear(conversationID)
}

// History returns the recorded turns of conversationID.
func (b *Bot) History(conversationID string) []Turn {
	return b.sessions.History(conversationID)
}
