package message

// OutboundMessage represents a message to be sent through a channel.
type OutboundMessage struct {
	Channel   string         `json:"channel,omitempty"`
	Chat      Chat           `json:"chat"`
	ReplyToID string         `json:"reply_to_id,omitempty"`
	Blocks    []ContentBlock `json:"blocks"`
	Keyboard  [][]Button     `json:"keyboard,omitempty"`
	Hints     *OutboundHints `json:"hints,omitempty"`
}

// OutboundHints carries optional delivery hints for channels.
// Zero value means no hints are set.
type OutboundHints struct {
	DisablePreview      bool   `json:"disable_preview,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
	ParseMode           string `json:"parse_mode,omitempty"`
}

// NewTextMessage creates an outbound message with a single text block.
func NewTextMessage(chat Chat, text string) OutboundMessage {
	return OutboundMessage{
		Chat:   chat,
		Blocks: []ContentBlock{NewTextBlock(text)},
	}
}

// WithKeyboard returns a copy of m carrying the given inline keyboard rows.
func (m OutboundMessage) WithKeyboard(rows ...[]Button) OutboundMessage {
	m.Keyboard = rows
	return m
}

// TextContent returns the concatenated text of all text blocks.
func (m *OutboundMessage) TextContent() string {
	return textContent(m.Blocks)
}

// HasMedia reports whether the message contains media blocks.
func (m *OutboundMessage) HasMedia() bool {
	_, ok := firstMedia(m.Blocks)
	return ok
}

// Row is a convenience for building one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}
