// Package logging builds the process logger: a slog handler writing to
// stderr and to a size-rotated file, wrapped so registered secrets never
// reach either sink.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/relaybot/internal/config"
	"github.com/flemzord/relaybot/internal/security"
)

// FileDisabled as log.file turns the file sink off.
const FileDisabled = "off"

// ErrNoLogFile is returned by Logs.Path when no file sink is configured.
var ErrNoLogFile = errors.New("no log file configured")

// Component values used with logger.With("component", ...).
const (
	CompApp      = "app"
	CompRouter   = "router"
	CompGateway  = "gateway"
	CompAccess   = "access"
	CompBackup   = "backup"
	CompTelegram = "telegram"
	CompHTTP     = "http"
)

// Logs is the configured logger together with its rotating file sink.
type Logs struct {
	Logger *slog.Logger
	file   *lumberjack.Logger
}

// Options tunes New beyond the config file.
type Options struct {
	// Stderr overrides os.Stderr.
	Stderr io.Writer
	// Level overrides cfg.Level when non-nil.
	Level *slog.Level
}

// New builds the logger described by cfg.
func New(cfg config.LogConfig, redactor *security.Redactor, opts Options) (*Logs, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if opts.Level != nil {
		level = *opts.Level
	}

	var out io.Writer = os.Stderr
	if opts.Stderr != nil {
		out = opts.Stderr
	}

	logs := &Logs{}
	if cfg.File != "" && !strings.EqualFold(cfg.File, FileDisabled) {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		logs.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(out, logs.file)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	if redactor != nil {
		handler = security.NewRedactingHandler(handler, redactor)
	}

	logs.Logger = slog.New(handler)
	return logs, nil
}

// Path returns the active log file path.
func (l *Logs) Path() (string, error) {
	if l == nil || l.file == nil {
		return "", ErrNoLogFile
	}
	return l.file.Filename, nil
}

// Rotate closes the current file and starts a new one. It is a no-op
// without a file sink.
func (l *Logs) Rotate() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close flushes and closes the file sink.
func (l *Logs) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
