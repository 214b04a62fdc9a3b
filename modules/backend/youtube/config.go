package youtube

import (
	"fmt"
	"regexp"
	"time"
)

// Config holds the configuration for the YouTube back end.
type Config struct {
	VideoQuality string `yaml:"video_quality"`
	MaxFileMB    int    `yaml:"max_file_mb"`
	UserAgent    string `yaml:"user_agent"`
	Timeout      string `yaml:"timeout"`
}

var qualityPattern = regexp.MustCompile(`^[0-9]{3,4}p$`)

func (c *Config) defaults() {
	if c.VideoQuality == "" {
		c.VideoQuality = "360p"
	}
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 50
	}
	if c.Timeout == "" {
		c.Timeout = "5m"
	}
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

func (c *Config) validate() error {
	if !qualityPattern.MatchString(c.VideoQuality) {
		return fmt.Errorf("backend.youtube: invalid video_quality %q", c.VideoQuality)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("backend.youtube: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
