package message

import "strings"

// ContentBlock is a flat union representing one piece of content inside a message.
// The Type field discriminates which fields are meaningful.
//
// Media may be referenced by URL, by a channel-specific FileID, or carried
// inline in Data. Data is never serialized; channels upload it directly.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"`
	FileID   string    `json:"file_id,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	IsVoice  bool      `json:"is_voice,omitempty"`
	Data     []byte    `json:"-"`
}

// HasInlineData reports whether the block carries its payload in memory.
func (b ContentBlock) HasInlineData() bool {
	return len(b.Data) > 0
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewImageBlock creates an image content block.
func NewImageBlock(url, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockImage, URL: url, MIMEType: mimeType}
}

// NewAudioBlock creates an audio content block. Set isVoice to true for voice messages.
func NewAudioBlock(url, mimeType string, isVoice bool) ContentBlock {
	return ContentBlock{Type: BlockAudio, URL: url, MIMEType: mimeType, IsVoice: isVoice}
}

// NewVideoBlock creates a video content block.
func NewVideoBlock(url, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockVideo, URL: url, MIMEType: mimeType}
}

// NewFileBlock creates a file content block.
func NewFileBlock(url, mimeType, fileName string) ContentBlock {
	return ContentBlock{Type: BlockFile, URL: url, MIMEType: mimeType, FileName: fileName}
}

// NewDataBlock creates a block of the given type whose payload is held in
// memory rather than referenced by URL.
func NewDataBlock(typ BlockType, data []byte, mimeType, fileName string) ContentBlock {
	return ContentBlock{Type: typ, Data: data, MIMEType: mimeType, FileName: fileName}
}

// textContent concatenates the text of all text blocks, separated by newlines.
func textContent(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// firstMedia returns the first non-text block.
func firstMedia(blocks []ContentBlock) (ContentBlock, bool) {
	for _, b := range blocks {
		switch b.Type {
		case BlockImage, BlockAudio, BlockVideo, BlockFile:
			return b, true
		}
	}
	return ContentBlock{}, false
}
