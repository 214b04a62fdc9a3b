package channel

import (
	"strings"
	"unicode/utf8"

	"github.com/flemzord/relaybot/pkg/message"
)

// SplitMessage splits msg so that no part carries more than maxRunes of
// text. Media blocks travel with the first part; the keyboard with the
// last. maxRunes <= 0 disables splitting.
func SplitMessage(msg message.OutboundMessage, maxRunes int) []message.OutboundMessage {
	if maxRunes <= 0 {
		return []message.OutboundMessage{msg}
	}

	var media []message.ContentBlock
	for _, b := range msg.Blocks {
		if b.Type != message.BlockText {
			media = append(media, b)
		}
	}

	text := msg.TextContent()
	if utf8.RuneCountInString(text) <= maxRunes {
		return []message.OutboundMessage{msg}
	}

	parts := SplitText(text, maxRunes)
	out := make([]message.OutboundMessage, len(parts))
	for i, p := range parts {
		m := message.OutboundMessage{
			Channel: msg.Channel,
			Chat:    msg.Chat,
			Hints:   msg.Hints,
		}
		if i == 0 {
			m.ReplyToID = msg.ReplyToID
			m.Blocks = append(m.Blocks, media...)
		}
		m.Blocks = append(m.Blocks, message.NewTextBlock(p))
		if i == len(parts)-1 {
			m.Keyboard = msg.Keyboard
		}
		out[i] = m
	}
	return out
}

// SplitText breaks text into pieces of at most maxRunes runes, cutting at
// the last newline in the window, else the last space, else mid-word.
// It never splits a multi-byte character.
func SplitText(text string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var parts []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxRunes {
			parts = append(parts, text)
			break
		}

		// Byte offset just past maxRunes runes.
		end := 0
		for i := 0; i < maxRunes; i++ {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
		}

		window := text[:end]
		var cut int
		switch {
		case text[end] == ' ' || text[end] == '\n':
			cut = end
		case strings.LastIndexByte(window, '\n') > 0:
			cut = strings.LastIndexByte(window, '\n')
		default:
			cut = strings.LastIndexByte(window, ' ')
		}
		head := ""
		if cut > 0 {
			head = strings.TrimRight(window[:cut], " \n")
		}
		if head == "" {
			parts = append(parts, window)
			text = text[end:]
			continue
		}
		parts = append(parts, head)
		text = strings.TrimLeft(text[cut:], " \n")
	}
	return parts
}
