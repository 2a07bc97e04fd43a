package wecom

import (
	"context"

	"github.com/memohai/wechatbot/internal/wxapi"
)

// Sender delivers text as the configured agent.
type Sender struct {
	client  *wxapi.Client
	agentID int
}

// NewSender creates a Sender posting as agentID.
func NewSender(client *wxapi.Client, agentID int) *Sender {
	return &Sender{client: client, agentID: agentID}
}

// SendText implements channel.Sender.
func (s *Sender) SendText(ctx context.Context, to, content string) error {
	return s.client.SendWeComText(ctx, s.agentID, to, content)
}
