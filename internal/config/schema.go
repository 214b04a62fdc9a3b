// Package config handles YAML configuration loading, environment variable
// expansion and overrides, and validation for relaybot.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
//
// Every scalar field can be overridden from the environment with the
// RELAYBOT_ prefix, e.g. RELAYBOT_BOT_TOKEN or RELAYBOT_GATEWAY_CONCURRENCY.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version" env:"VERSION"`

	// DataDir holds the state store and backups.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	Bot         BotConfig       `yaml:"bot" envPrefix:"BOT_"`
	Store       StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Gateway     GatewayConfig   `yaml:"gateway" envPrefix:"GATEWAY_"`
	Log         LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Backup      BackupConfig    `yaml:"backup" envPrefix:"BACKUP_"`
	Telemetry   TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
	Credentials Credentials     `yaml:"credentials"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "backend.openai").
	Modules map[string]yaml.Node `yaml:"modules,omitempty"`
}

// BotConfig holds the bot identity and moderation policy.
type BotConfig struct {
	// Token is the Telegram bot token. Required.
	Token string `yaml:"token" env:"TOKEN"`

	// Admins lists the bootstrap administrators. They always hold every
	// capability and cannot be removed, banned or muted. Required.
	Admins []string `yaml:"admins" env:"ADMINS" envSeparator:","`

	// RestrictGeneration limits generation and downloads to allow-listed handles.
	RestrictGeneration bool `yaml:"restrict_generation" env:"RESTRICT_GENERATION"`

	// DonateURL adds a link button to the start menu when set.
	DonateURL string `yaml:"donate_url" env:"DONATE_URL"`

	// PendingTTL drops unanswered prompts after this long.
	PendingTTL time.Duration `yaml:"pending_ttl" env:"PENDING_TTL"`

	// FloodRate and FloodBurst bound inbound events per principal.
	FloodRate  float64 `yaml:"flood_rate" env:"FLOOD_RATE"`
	FloodBurst int     `yaml:"flood_burst" env:"FLOOD_BURST"`

	// BroadcastRate bounds outbound messages per second during broadcasts
	// and relays.
	BroadcastRate float64 `yaml:"broadcast_rate" env:"BROADCAST_RATE"`

	// Workers is the number of concurrent event handlers.
	Workers int `yaml:"workers" env:"WORKERS"`
}

// StoreConfig selects the access store backend.
type StoreConfig struct {
	// Driver is "json" (default) or "sqlite".
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path of the state file; defaults to <data_dir>/state.json or state.db.
	Path string `yaml:"path" env:"PATH"`
}

// GatewayConfig bounds outbound back-end calls.
type GatewayConfig struct {
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// BackupConfig schedules periodic state snapshots. An empty schedule
// disables backups.
type BackupConfig struct {
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
	Dir      string `yaml:"dir" env:"DIR"`
	Keep     int    `yaml:"keep" env:"KEEP"`
}

// TelemetryConfig enables OpenTelemetry trace export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Credentials holds back-end secrets. Each is optional; a missing one only
// makes the matching back end unavailable.
type Credentials struct {
	OpenAIKey        string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	DeepAIKey        string `yaml:"deepai_api_key" env:"DEEPAI_API_KEY"`
	HuggingFaceToken string `yaml:"huggingface_token" env:"HUGGINGFACE_TOKEN"`
}

// Credential names under which secrets are published to the credential store.
const (
	CredTelegramToken    = "TELEGRAM_BOT_TOKEN"
	CredOpenAIKey        = "OPENAI_API_KEY"
	CredDeepAIKey        = "DEEPAI_API_KEY"
	CredHuggingFaceToken = "HUGGINGFACE_TOKEN"
)

// Secrets returns the non-empty credentials keyed by credential name.
func (c *Config) Secrets() map[string]string {
	out := make(map[string]string, 4)
	add := func(name, value string) {
		if value != "" {
			out[name] = value
		}
	}
	add(CredTelegramToken, c.Bot.Token)
	add(CredOpenAIKey, c.Credentials.OpenAIKey)
	add(CredDeepAIKey, c.Credentials.DeepAIKey)
	add(CredHuggingFaceToken, c.Credentials.HuggingFaceToken)
	return out
}
