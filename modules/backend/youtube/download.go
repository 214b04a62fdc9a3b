package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/flemzord/relaybot/internal/gateway"
	ytdl "github.com/kkdai/youtube/v2"
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/shorts/|youtube\.com/live/)([0-9A-Za-z_-]{6,})`)

// VideoID extracts the video id from a YouTube link.
func VideoID(link string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(link)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// Invoke implements gateway.Backend. req.Prompt is the video link.
func (b *Backend) Invoke(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	id, ok := VideoID(strings.TrimSpace(req.Prompt))
	if !ok {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("not a YouTube link"))
	}

	video, err := b.client.GetVideoContext(ctx, id)
	if err != nil {
		return gateway.Artifact{}, b.wrap(err)
	}

	limit := int64(b.config.MaxFileMB) << 20
	var format ytdl.Format
	var art gateway.Artifact
	switch req.Kind {
	case gateway.KindDownloadVideo:
		format, ok = pickVideo(video, b.config.VideoQuality, limit)
		if !ok {
			return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, fmt.Appendf(nil, "no mp4 video with sound at or under %s", b.config.VideoQuality))
		}
		art = gateway.Artifact{Type: gateway.ArtifactVideo, MIMEType: "video/mp4", FileName: fileName(video.Title, "mp4")}
	case gateway.KindDownloadAudio:
		format, ok = pickAudio(video, limit)
		if !ok {
			return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("no audio track found"))
		}
		mimeType, ext := audioType(format.MimeType)
		art = gateway.Artifact{Type: gateway.ArtifactAudio, MIMEType: mimeType, FileName: fileName(video.Title, ext)}
	default:
		return gateway.Artifact{}, fmt.Errorf("%w: youtube does not serve %s", gateway.ErrConfig, req.Kind)
	}

	stream, size, err := b.client.GetStreamContext(ctx, video, &format)
	if err != nil {
		return gateway.Artifact{}, b.wrap(err)
	}
	defer func() { _ = stream.Close() }()
	if size > limit {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, fmt.Appendf(nil, "file is %d MB, the limit is %d MB", size>>20, b.config.MaxFileMB))
	}

	data, err := io.ReadAll(io.LimitReader(stream, limit+1))
	if err != nil {
		return gateway.Artifact{}, b.wrap(err)
	}
	if int64(len(data)) > limit {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, fmt.Appendf(nil, "file exceeds %d MB", b.config.MaxFileMB))
	}
	if len(data) == 0 {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("empty stream"))
	}

	b.logger.Info("downloaded", "video", id, "kind", string(req.Kind), "itag", format.ItagNo, "bytes", len(data))
	art.Data = data
	art.Caption = video.Title
	return art, nil
}

func (b *Backend) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return gateway.NewRemoteError(b.Name(), 0, []byte(err.Error()))
}

// pickVideo prefers the progressive mp4 at quality, then the best
// progressive mp4 below it that fits the limit.
func pickVideo(v *ytdl.Video, quality string, limit int64) (ytdl.Format, bool) {
	want := qualityHeight(quality)
	var best ytdl.Format
	for _, f := range v.Formats.WithAudioChannels() {
		if !strings.HasPrefix(f.MimeType, "video/mp4") || f.QualityLabel == "" {
			continue
		}
		if estimateSize(f, v) > limit {
			continue
		}
		h := qualityHeight(f.QualityLabel)
		if h == want {
			return f, true
		}
		if h < want && (best.ItagNo == 0 || h > qualityHeight(best.QualityLabel)) {
			best = f
		}
	}
	return best, best.ItagNo != 0
}

// pickAudio returns the highest bitrate audio-only format that fits.
func pickAudio(v *ytdl.Video, limit int64) (ytdl.Format, bool) {
	var best ytdl.Format
	for _, f := range v.Formats.WithAudioChannels() {
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if estimateSize(f, v) > limit {
			continue
		}
		if best.ItagNo == 0 || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best, best.ItagNo != 0
}

func estimateSize(f ytdl.Format, v *ytdl.Video) int64 {
	if f.ContentLength > 0 {
		return f.ContentLength
	}
	return int64(f.Bitrate/8) * int64(v.Duration.Seconds())
}

// qualityHeight parses "720p60" or "360p" into 720 or 360.
func qualityHeight(label string) int {
	n := 0
	for _, r := range label {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func audioType(mimeType string) (string, string) {
	base, _, _ := strings.Cut(mimeType, ";")
	switch base {
	case "audio/webm":
		return base, "webm"
	case "audio/mp4":
		return base, "m4a"
	default:
		return "audio/mpeg", "mp3"
	}
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N} ._-]+`)

func fileName(title, ext string) string {
	name := strings.TrimSpace(unsafeName.ReplaceAllString(title, ""))
	if r := []rune(name); len(r) > 64 {
		name = strings.TrimSpace(string(r[:64]))
	}
	if name == "" {
		name = "download"
	}
	return name + "." + ext
}
