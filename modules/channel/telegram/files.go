package telegram

import (
	"context"
	"fmt"

	"github.com/flemzord/relaybot/internal/channel"
	"github.com/flemzord/relaybot/pkg/message"
)

// FetchFile implements channel.FileFetcher. Inline data is returned as is;
// otherwise the block's FileID is resolved with getFile and downloaded.
func (t *Telegram) FetchFile(ctx context.Context, block message.ContentBlock) ([]byte, error) {
	if block.HasInlineData() {
		return block.Data, nil
	}
	if block.FileID == "" {
		return nil, fmt.Errorf("telegram: %w: block has no file id", channel.ErrUnsupported)
	}

	file, err := t.client.GetFile(ctx, block.FileID)
	if err != nil {
		return nil, fmt.Errorf("telegram: getFile: %w", err)
	}
	if file.FileSize > MaxDownloadBytes {
		return nil, ErrFileTooLarge
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: getFile returned no path for %s", block.FileID)
	}
	return t.client.DownloadFile(ctx, file.FilePath)
}
