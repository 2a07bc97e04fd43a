package mp

import (
	"context"

	"github.com/memohai/wechatbot/internal/wxapi"
)

// Sender delivers text through the customer service message API.
type Sender struct {
	client *wxapi.Client
}

// NewSender creates a Sender backed by client.
func NewSender(client *wxapi.Client) *Sender {
	return &Sender{client: client}
}

// SendText implements channel.Sender.
func (s *Sender) SendText(ctx context.Context, to, content string) error {
	return s.client.SendMPText(ctx, to, content)
}
