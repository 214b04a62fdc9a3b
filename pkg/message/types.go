// Package message defines the transport-agnostic contract between chat
// channels and the bot core: inbound events (commands, button presses,
// free text, media) and outbound replies with optional inline keyboards.
package message

// ChatType indicates the kind of conversation.
type ChatType string

const (
	// ChatDM is a direct (one-to-one) conversation.
	ChatDM ChatType = "dm"
	// ChatGroup is a multi-participant group conversation.
	ChatGroup ChatType = "group"
	// ChatBroadcast is a one-to-many broadcast channel.
	ChatBroadcast ChatType = "broadcast"
)

// BlockType discriminates the variant stored in a ContentBlock.
type BlockType string

// Supported block types.
const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
	BlockAudio BlockType = "audio"
	BlockVideo BlockType = "video"
	BlockFile  BlockType = "file"
)

// EventKind classifies an inbound message for routing.
type EventKind string

const (
	// EventCommand is a slash command such as "/start".
	EventCommand EventKind = "command"
	// EventButton is an inline keyboard press carrying a payload.
	EventButton EventKind = "button"
	// EventText is free text with no command prefix.
	EventText EventKind = "text"
	// EventMedia is a message carrying a file, photo, audio or video.
	EventMedia EventKind = "media"
)

// Sender identifies the author of an inbound message.
type Sender struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Handle returns the sender's "@username" form, or "" when the account has
// no public username.
func (s Sender) Handle() string {
	if s.Username == "" {
		return ""
	}
	return "@" + s.Username
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID    string   `json:"id"`
	Type  ChatType `json:"type"`
	Title string   `json:"title,omitempty"`
}

// IsGroup reports whether the chat is a group conversation.
func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup
}

// IsDirectMessage reports whether the chat is a direct message.
func (c Chat) IsDirectMessage() bool {
	return c.Type == ChatDM
}

// Button is one key of an inline keyboard. Exactly one of Payload or URL
// should be set.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}
