package dispatch

import "strings"

const (
	// ApologyText is sent once when reply generation fails.
	ApologyText = "emmm 我脑子卡了一下"
	// ClearedText confirms that a conversation's memory was wiped.
	ClearedText = "记忆已清除~"
)

// FillerReplies answer content the persona cannot read (stickers, images, voice).
var FillerReplies = []string{
	"哈哈哈哈哈哈",
	"哈哈哈哈哈哈哈",
	"笑死",
	"哈哈哈",
	"嘿嘿",
	"哈哈哈哈哈好好笑",
}

// IsClearCommand reports whether text asks to wipe the conversation's memory.
func IsClearCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "清除记录", "reset", "清空":
		return true
	}
	return false
}
