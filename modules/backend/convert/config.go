package convert

import (
	"fmt"
	"regexp"
)

// Config holds the configuration for the convert back end.
type Config struct {
	FFmpegPath string   `yaml:"ffmpeg_path"`
	TempDir    string   `yaml:"temp_dir"`
	Formats    []string `yaml:"formats"`
	MaxInputMB int      `yaml:"max_input_mb"`
}

var formatPattern = regexp.MustCompile(`^[a-z0-9]{2,5}$`)

var defaultFormats = []string{
	"mp3", "ogg", "wav", "m4a", "flac", "opus",
	"mp4", "webm", "mkv", "avi", "mov", "gif",
	"png", "jpg", "jpeg", "webp", "bmp",
}

func (c *Config) defaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if len(c.Formats) == 0 {
		c.Formats = defaultFormats
	}
	if c.MaxInputMB <= 0 {
		c.MaxInputMB = 50
	}
}

func (c *Config) validate() error {
	for _, f := range c.Formats {
		if !formatPattern.MatchString(f) {
			return fmt.Errorf("backend.convert: invalid format %q", f)
		}
	}
	return nil
}
