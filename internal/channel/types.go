// Package channel defines the message model shared by the callback adapters and the
// reply dispatcher: channel types, the closed set of message kinds, inbound messages,
// and the outbound Sender contract.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform variant (e.g., "mp", "wecom").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

const (
	// ChannelMP is the official account channel, signed but not encrypted.
	ChannelMP ChannelType = "mp"
	// ChannelWeCom is the WeCom self-built app channel, signed and encrypted.
	ChannelWeCom ChannelType = "wecom"
)

// MessageKind is the closed set of inbound message categories.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindText
	KindImage
	KindVoice
	KindVideo
	KindLocation
	KindLink
	KindEvent
	// KindUnsupported is text the client substituted for content it could not render
	// (stickers, quoted cards and the like).
	KindUnsupported
)

var kindNames = map[MessageKind]string{
	KindUnknown:     "unknown",
	KindText:        "text",
	KindImage:       "image",
	KindVoice:       "voice",
	KindVideo:       "video",
	KindLocation:    "location",
	KindLink:        "link",
	KindEvent:       "event",
	KindUnsupported: "unsupported",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a platform MsgType to a MessageKind.
func ParseKind(msgType string) MessageKind {
	switch strings.ToLower(strings.TrimSpace(msgType)) {
	case "text":
		return KindText
	case "image":
		return KindImage
	case "voice":
		return KindVoice
	case "video", "shortvideo":
		return KindVideo
	case "location":
		return KindLocation
	case "link":
		return KindLink
	case "event":
		return KindEvent
	default:
		return KindUnknown
	}
}

// IncomingMessage is one user message extracted from a verified delivery.
type IncomingMessage struct {
	Channel        ChannelType
	ConversationID string
	RecipientID    string
	Kind           MessageKind
	Text           string
	MessageID      string
	Timestamp      time.Time
	Event          string
	AgentID        string
}

// Replyable reports whether the message should go to reply generation.
func (m IncomingMessage) Replyable() bool {
	return m.Kind == KindText && strings.TrimSpace(m.Text) != ""
}
