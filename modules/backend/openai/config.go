package openai

import (
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/relaybot/internal/gateway"
)

// Config holds the configuration for the OpenAI back end.
type Config struct {
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	ChatModel    string   `yaml:"chat_model"`
	ImageModel   string   `yaml:"image_model"`
	ImageSize    string   `yaml:"image_size"`
	MaxTokens    int      `yaml:"max_tokens"`
	SystemPrompt string   `yaml:"system_prompt"`
	Timeout      string   `yaml:"timeout"`
	Kinds        []string `yaml:"kinds"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.ChatModel == "" {
		c.ChatModel = "gpt-4o-mini"
	}
	if c.ImageModel == "" {
		c.ImageModel = "dall-e-3"
	}
	if c.ImageSize == "" {
		c.ImageSize = "1024x1024"
	}
	if c.Timeout == "" {
		c.Timeout = "60s"
	}
	if len(c.Kinds) == 0 {
		c.Kinds = []string{string(gateway.KindChat), string(gateway.KindImage)}
	}
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("backend.openai: invalid timeout %q: %w", c.Timeout, err)
	}
	for _, k := range c.Kinds {
		if !slices.Contains(supportedKinds, gateway.Kind(k)) {
			return fmt.Errorf("backend.openai: unsupported kind %q", k)
		}
	}
	return nil
}

var supportedKinds = []gateway.Kind{gateway.KindChat, gateway.KindImage}
