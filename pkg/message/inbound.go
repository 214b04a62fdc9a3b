package message

import (
	"encoding/json"
	"strings"
	"time"
)

// InboundMessage represents an event received from a channel.
//
// Kind tells the router how to dispatch it: commands carry Command and Args,
// button presses carry Payload (and CallbackID for acknowledgement), text
// and media events carry Blocks.
type InboundMessage struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Channel    string          `json:"channel"`
	Kind       EventKind       `json:"kind"`
	Sender     Sender          `json:"sender"`
	Chat       Chat            `json:"chat"`
	ReplyToID  string          `json:"reply_to_id,omitempty"`
	Command    string          `json:"command,omitempty"`
	Args       string          `json:"args,omitempty"`
	Payload    string          `json:"payload,omitempty"`
	CallbackID string          `json:"callback_id,omitempty"`
	Blocks     []ContentBlock  `json:"blocks,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// TextContent returns the concatenated text of all text blocks.
func (m *InboundMessage) TextContent() string {
	return textContent(m.Blocks)
}

// HasMedia reports whether the message contains media blocks.
func (m *InboundMessage) HasMedia() bool {
	_, ok := firstMedia(m.Blocks)
	return ok
}

// Media returns the first media block, if any.
func (m *InboundMessage) Media() (ContentBlock, bool) {
	return firstMedia(m.Blocks)
}

// IsGroup reports whether the message was sent in a group chat.
func (m *InboundMessage) IsGroup() bool {
	return m.Chat.IsGroup()
}

// IsDirectMessage reports whether the message is a direct message.
func (m *InboundMessage) IsDirectMessage() bool {
	return m.Chat.IsDirectMessage()
}

// ParseCommand splits a "/cmd@bot args" string into a lower-cased command
// name without the slash or bot suffix, and the trimmed argument string.
// ok is false when text does not start with "/".
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
