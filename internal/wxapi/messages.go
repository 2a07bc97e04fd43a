package wxapi

import "context"

type textBody struct {
	Content string `json:"content"`
}

type wecomTextMessage struct {
	ToUser  string   `json:"touser"`
	MsgType string   `json:"msgtype"`
	AgentID int      `json:"agentid"`
	Text    textBody `json:"text"`
}

type mpTextMessage struct {
	ToUser  string   `json:"touser"`
	MsgType string   `json:"msgtype"`
	Text    textBody `json:"text"`
}

// SendWeComText sends an application text message to one WeCom member.
func (c *Client) SendWeComText(ctx context.Context, agentID int, toUser, content string) error {
	return c.PostJSON(ctx, "/cgi-bin/message/send", wecomTextMessage{
		ToUser:  toUser,
		MsgType: "text",
		AgentID: agentID,
		Text:    textBody{Content: content},
	})
}

// SendMPText sends a customer-service text message to one follower.
func (c *Client) SendMPText(ctx context.Context, toUser, content string) error {
	return c.PostJSON(ctx, "/cgi-bin/message/custom/send", mpTextMessage{
		ToUser:  toUser,
		MsgType: "text",
		Text:    textBody{Content: content},
	})
}
