package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sender delivers one text message to a user of a channel.
type Sender interface {
	SendText(ctx context.Context, to, content string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, content string) error

// SendText calls f.
func (f SenderFunc) SendText(ctx context.Context, to, content string) error {
	return f(ctx, to, content)
}

// Registry holds the outbound sender of every enabled channel. It is created via
// NewRegistry and passed explicitly to the components that need it.
type Registry struct {
	mu      sync.RWMutex
	senders map[ChannelType]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: map[ChannelType]Sender{},
	}
}

// Register adds the sender for channelType.
func (r *Registry) Register(channelType ChannelType, sender Sender) error {
	if sender == nil {
		return fmt.Errorf("sender is nil")
	}
	ct := normalizeChannelType(channelType.String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.senders[ct] = sender
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(channelType ChannelType, sender Sender) {
	if err := r.Register(channelType, sender); err != nil {
		panic(err)
	}
}

// Get returns the sender for the given channel type.
func (r *Registry) Get(channelType ChannelType) (Sender, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[ct]
	return sender, ok
}

// Types returns all registered channel types.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ChannelType, 0, len(r.senders))
	for ct := range r.senders {
		items = append(items, ct)
	}
	return items
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}
