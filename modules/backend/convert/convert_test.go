package convert

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg. It copies the
// -i argument to the last argument, or fails with the given stderr.
func fakeFFmpeg(t *testing.T, fail string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	script := `#!/bin/sh
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift ;;
    *) out="$1" ;;
  esac
  shift
done
`
	if fail != "" {
		script += "echo '" + fail + "' >&2\nexit 1\n"
	} else {
		script += "cat \"$in\" > \"$out\"\nprintf '+converted' >> \"$out\"\n"
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestBackend(t *testing.T, ffmpeg string) *Backend {
	t.Helper()
	b := &Backend{
		config: Config{FFmpegPath: ffmpeg, TempDir: t.TempDir()},
		logger: slog.New(slog.DiscardHandler),
	}
	b.config.defaults()
	return b
}

func TestInvoke_Converts(t *testing.T) {
	b := newTestBackend(t, fakeFFmpeg(t, ""))

	art, err := b.Invoke(context.Background(), gateway.Request{
		Kind:   gateway.KindConvert,
		Prompt: "MP3",
		Input:  &gateway.Input{Data: []byte("wave"), FileName: "voice note.wav"},
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if string(art.Data) != "wave+converted" {
		t.Errorf("Data = %q", art.Data)
	}
	if art.Type != gateway.ArtifactAudio || art.FileName != "voice note.mp3" {
		t.Errorf("artifact = %+v", art)
	}

	entries, _ := os.ReadDir(b.config.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries left", len(entries))
	}
}

func TestInvoke_FFmpegFailure(t *testing.T) {
	b := newTestBackend(t, fakeFFmpeg(t, "Invalid data found when processing input"))

	_, err := b.Invoke(context.Background(), gateway.Request{
		Kind:   gateway.KindConvert,
		Prompt: "mp4",
		Input:  &gateway.Input{Data: []byte("junk"), FileName: "x.txt"},
	})
	var re *gateway.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if re.Status != 1 || re.Body != "Invalid data found when processing input" {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestInvoke_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		req  gateway.Request
	}{
		{"not allowed", gateway.Request{Prompt: "exe", Input: &gateway.Input{Data: []byte("x")}}},
		{"injection", gateway.Request{Prompt: "mp3 -f", Input: &gateway.Input{Data: []byte("x")}}},
		{"no input", gateway.Request{Prompt: "mp3"}},
		{"empty input", gateway.Request{Prompt: "mp3", Input: &gateway.Input{}}},
	}
	b := newTestBackend(t, "ffmpeg-that-is-never-run")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Kind = gateway.KindConvert
			if _, err := b.Invoke(context.Background(), tt.req); !errors.Is(err, gateway.ErrRemote) {
				t.Errorf("Invoke() = %v, want ErrRemote", err)
			}
		})
	}
}

func TestInvoke_InputTooLarge(t *testing.T) {
	b := newTestBackend(t, "ffmpeg")
	b.config.MaxInputMB = 1
	_, err := b.Invoke(context.Background(), gateway.Request{
		Prompt: "mp3",
		Input:  &gateway.Input{Data: make([]byte, 1<<20+1)},
	})
	if !errors.Is(err, gateway.ErrRemote) {
		t.Fatalf("Invoke() = %v, want ErrRemote", err)
	}
}

func TestAvailable(t *testing.T) {
	b := newTestBackend(t, "ffmpeg")
	b.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if err := b.Available(); !errors.Is(err, gateway.ErrConfig) {
		t.Errorf("Available() = %v, want ErrConfig", err)
	}
	b.lookPath = func(p string) (string, error) { return "/usr/bin/" + p, nil }
	if err := b.Available(); err != nil {
		t.Errorf("Available() = %v", err)
	}
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name, format string
		wantName     string
		wantType     gateway.ArtifactType
	}{
		{"clip.mov", "mp4", "clip.mp4", gateway.ArtifactVideo},
		{"", "png", "converted.png", gateway.ArtifactImage},
		{"anim.mp4", "gif", "anim.gif", gateway.ArtifactDocument},
		{"song.flac", "ogg", "song.ogg", gateway.ArtifactAudio},
	}
	for _, tt := range tests {
		if got := outputName(tt.name, tt.format); got != tt.wantName {
			t.Errorf("outputName(%q, %q) = %q, want %q", tt.name, tt.format, got, tt.wantName)
		}
		if got := artifactType(tt.format); got != tt.wantType {
			t.Errorf("artifactType(%q) = %q, want %q", tt.format, got, tt.wantType)
		}
	}
	if got := inputExt("a.b.WAV"); got != ".wav" {
		t.Errorf("inputExt = %q", got)
	}
	if got := inputExt("noext"); got != "" {
		t.Errorf("inputExt = %q", got)
	}
}

func TestProvision_RegistersConvert(t *testing.T) {
	gw := gateway.New(gateway.Config{})
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService(core.ServiceGateway, gw)

	b := &Backend{lookPath: func(p string) (string, error) { return p, nil }}
	if err := b.Provision(appCtx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if err := gw.Available(gateway.KindConvert); err != nil {
		t.Errorf("Available(convert) = %v", err)
	}
}
