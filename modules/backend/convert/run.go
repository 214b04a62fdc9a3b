package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
)

// maxStderr bounds the ffmpeg diagnostics kept for an error.
const maxStderr = 2048

var (
	audioFormats = []string{"mp3", "ogg", "wav", "m4a", "flac", "opus", "aac"}
	videoFormats = []string{"mp4", "webm", "mkv", "avi", "mov"}
	imageFormats = []string{"png", "jpg", "jpeg", "webp", "bmp", "gif"}
)

// Invoke implements gateway.Backend. req.Prompt is the target format and
// req.Input the file to convert.
func (b *Backend) Invoke(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Prompt), "."))
	if !formatPattern.MatchString(format) || !slices.Contains(b.config.Formats, format) {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("unsupported target format "+format))
	}
	if req.Input == nil || len(req.Input.Data) == 0 {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("no input file"))
	}
	if limit := b.config.MaxInputMB << 20; len(req.Input.Data) > limit {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, fmt.Appendf(nil, "input exceeds %d MB", b.config.MaxInputMB))
	}
	bin, err := b.binary()
	if err != nil {
		return gateway.Artifact{}, fmt.Errorf("%w: ffmpeg: %v", gateway.ErrConfig, err)
	}

	dir, err := os.MkdirTemp(b.config.TempDir, "relaybot-convert-*")
	if err != nil {
		return gateway.Artifact{}, fmt.Errorf("convert: temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "input"+inputExt(req.Input.FileName))
	out := filepath.Join(dir, "output."+format)
	if err := os.WriteFile(in, req.Input.Data, 0o600); err != nil {
		return gateway.Artifact{}, fmt.Errorf("convert: write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-loglevel", "error", "-nostdin", "-i", in, "-y", out)
	cmd.Dir = dir
	cmd.Env = security.SanitizedEnv(b.creds)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return gateway.Artifact{}, ctx.Err()
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), ee.ExitCode(), tail(stderr.Bytes()))
		}
		return gateway.Artifact{}, fmt.Errorf("%w: ffmpeg: %w", gateway.ErrRemote, err)
	}

	data, err := os.ReadFile(out)
	if err != nil || len(data) == 0 {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), 0, []byte("ffmpeg produced no output"))
	}
	b.logger.Debug("file converted", "format", format, "in_bytes", len(req.Input.Data), "out_bytes", len(data))

	return gateway.Artifact{
		Type:     artifactType(format),
		Data:     data,
		MIMEType: mime.TypeByExtension("." + format),
		FileName: outputName(req.Input.FileName, format),
	}, nil
}

// inputExt keeps the extension of the original name so ffmpeg can probe it.
func inputExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !formatPattern.MatchString(strings.TrimPrefix(ext, ".")) {
		return ""
	}
	return ext
}

func outputName(name, format string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "converted"
	}
	return base + "." + format
}

// artifactType sends uncommon results as documents. GIFs go as documents
// so clients do not re-encode them.
func artifactType(format string) gateway.ArtifactType {
	switch {
	case format == "gif":
		return gateway.ArtifactDocument
	case slices.Contains(audioFormats, format):
		return gateway.ArtifactAudio
	case slices.Contains(videoFormats, format):
		return gateway.ArtifactVideo
	case slices.Contains(imageFormats, format):
		return gateway.ArtifactImage
	default:
		return gateway.ArtifactDocument
	}
}

func tail(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderr {
		b = b[len(b)-maxStderr:]
	}
	if len(b) == 0 {
		return []byte("ffmpeg failed")
	}
	return b
}
