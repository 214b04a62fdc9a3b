package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/security"
)

func TestNew_WritesBothSinksRedacted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "relaybot.log")

	redactor := security.NewRedactor()
	redactor.AddLiteral("very-secret-token")

	var stderr bytes.Buffer
	logs, err := New(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}, redactor, Options{Stderr: &stderr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })

	logs.Logger.Debug("connecting", "token", "very-secret-token")

	assert.Contains(t, stderr.String(), `"msg":"connecting"`)
	assert.NotContains(t, stderr.String(), "very-secret-token")

	got, err := logs.Path()
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), security.RedactPlaceholder)
}

func TestNew_NoFile(t *testing.T) {
	var stderr bytes.Buffer
	logs, err := New(config.LogConfig{Level: "warn", File: FileDisabled}, nil, Options{Stderr: &stderr})
	require.NoError(t, err)

	logs.Logger.Info("hidden")
	logs.Logger.Warn("shown")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.True(t, strings.Contains(stderr.String(), "level=WARN"))

	_, err = logs.Path()
	assert.True(t, errors.Is(err, ErrNoLogFile))
	assert.NoError(t, logs.Rotate())
	assert.NoError(t, logs.Close())
}

func TestNew_LevelOverride(t *testing.T) {
	var stderr bytes.Buffer
	lvl := slog.LevelDebug
	logs, err := New(config.LogConfig{Level: "error"}, nil, Options{Stderr: &stderr, Level: &lvl})
	require.NoError(t, err)

	logs.Logger.Debug("verbose")
	assert.Contains(t, stderr.String(), "verbose")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"}, nil, Options{})
	assert.Error(t, err)
}

func TestRotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	logs, err := New(config.LogConfig{Level: "info", File: path}, nil, Options{Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })

	logs.Logger.Info("before")
	require.NoError(t, logs.Rotate())
	logs.Logger.Info("after")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}
