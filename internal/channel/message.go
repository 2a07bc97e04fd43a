package channel

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// unsupportedMarkers appear in text content when the client could not forward the
// original message.
var unsupportedMarkers = []string{
	"[Unsupported Message]",
	"[收到不支持的消息类型",
	"暂无法显示",
}

type messageXML struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MsgID        string   `xml:"MsgId"`
	Event        string   `xml:"Event"`
	AgentID      string   `xml:"AgentID"`
}

// ParseMessageXML decodes a plaintext message body delivered on channelType.
func ParseMessageXML(channelType ChannelType, body []byte) (IncomingMessage, error) {
	var raw messageXML
	if err := xml.Unmarshal(body, &raw); err != nil {
		return IncomingMessage{}, fmt.Errorf("parse message xml: %w", err)
	}
	from := strings.TrimSpace(raw.FromUserName)
	if from == "" {
		return IncomingMessage{}, fmt.Errorf("parse message xml: FromUserName is empty")
	}
	msg := IncomingMessage{
		Channel:        channelType,
		ConversationID: from,
		RecipientID:    strings.TrimSpace(raw.ToUserName),
		Kind:           ParseKind(raw.MsgType),
		Text:           raw.Content,
		MessageID:      strings.TrimSpace(raw.MsgID),
		Event:          strings.TrimSpace(raw.Event),
		AgentID:        strings.TrimSpace(raw.AgentID),
	}
	if raw.CreateTime > 0 {
		msg.Timestamp = time.Unix(raw.CreateTime, 0)
	}
	if msg.Kind == KindText && hasUnsupportedMarker(msg.Text) {
		msg.Kind = KindUnsupported
	}
	return msg, nil
}

func hasUnsupportedMarker(text string) bool {
	for _, marker := range unsupportedMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
