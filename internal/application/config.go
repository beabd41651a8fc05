// Package application wires the domain, recovery and ingest packages into
// the operations a reviewer performs: loading a batch, recording decisions,
// computing statistics and exporting results.
package application

import (
	"os"
	"time"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Config represents the complete arbiter configuration loaded from YAML.
// Config is validated with go-playground/validator struct tags plus the
// custom slotid and storagepath validators registered by NewValidator.
type Config struct {
	// Log controls the zap logger built at startup.
	Log LogConfig `yaml:"log" validate:"required"`

	// Storage selects where reviewer decisions are persisted.
	Storage StorageConfig `yaml:"storage" validate:"required"`

	// Server configures the HTTP API started by the serve command.
	Server ServerConfig `yaml:"server"`

	// Recovery tunes the JSON recovery engine and suggestion extractor.
	Recovery RecoveryConfig `yaml:"recovery"`

	// Judge configures the optional LLM-assisted judge.
	Judge JudgeConfig `yaml:"judge"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Labels are initial display names for slots, applied to sessions that
	// have not renamed the slot yet.
	Labels map[string]string `yaml:"labels,omitempty" validate:"omitempty,dive,keys,slotid,endkeys,max=100"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is the minimum enabled level.
	Level string `yaml:"level" validate:"required,oneof=debug info warn error"`
	// Format selects production JSON output or the development console.
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// StorageConfig selects the decision store.
type StorageConfig struct {
	// Path is the badger data directory. Ignored when InMemory is set.
	Path string `yaml:"path" validate:"required_without=InMemory,omitempty,storagepath"`
	// InMemory keeps decisions in memory only.
	InMemory bool `yaml:"in_memory"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
	// ReadTimeout bounds reading a request, including uploaded batches.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"omitempty,min=1s"`
	// MaxBodyBytes bounds uploaded batch size.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"omitempty,min=1024"`
}

// RecoveryConfig tunes field recovery.
type RecoveryConfig struct {
	// MaxDepth bounds how deeply the extractor follows wrapper objects.
	MaxDepth int `yaml:"max_depth" validate:"omitempty,min=1,max=32"`
	// FallbackPreview bounds the original data kept in a fallback record.
	FallbackPreview int `yaml:"fallback_preview" validate:"omitempty,min=16,max=100000"`
}

// JudgeConfig configures the LLM-assisted judge.
type JudgeConfig struct {
	// Provider names the LLM provider.
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai anthropic google"`
	// Model overrides the provider default model.
	Model string `yaml:"model" validate:"omitempty,max=100"`
	// RateLimit is the sustained request rate per second.
	RateLimit float64 `yaml:"rate_limit" validate:"omitempty,gt=0"`
	// Burst is the token bucket size.
	Burst int `yaml:"burst" validate:"omitempty,min=1"`
	// MaxRetries bounds retries of transient provider failures.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`
	// Timeout bounds one provider call.
	Timeout time.Duration `yaml:"timeout" validate:"omitempty,min=1s,max=10m"`
	// Concurrency bounds rows judged at once.
	Concurrency int `yaml:"concurrency" validate:"omitempty,min=1,max=64"`
	// Temperature is passed to the provider.
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	// PositionSwap asks about every row twice, the second time with the
	// options in reverse order, and keeps only winners both passes agree on.
	PositionSwap bool `yaml:"position_swap"`
	// MaxTokens caps tokens spent in one run. Zero is unlimited.
	MaxTokens int64 `yaml:"max_tokens" validate:"min=0"`
	// MaxCalls caps provider calls in one run. Zero is unlimited.
	MaxCalls int64 `yaml:"max_calls" validate:"min=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled registers collectors and serves Path.
	Enabled bool `yaml:"enabled"`
	// Path is the HTTP path metrics are served on.
	Path string `yaml:"path" validate:"required_if=Enabled true,omitempty,startswith=/"`
}

// Environment variables holding provider credentials.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
)

// providerEnv maps judge providers to their credential variable.
var providerEnv = map[string]string{
	"openai":    EnvOpenAIKey,
	"anthropic": EnvAnthropicKey,
	"google":    EnvGoogleKey,
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{Path: ".arbiter"},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
		Recovery: RecoveryConfig{
			MaxDepth:        5,
			FallbackPreview: domain.FallbackPreviewLimit,
		},
		Judge: JudgeConfig{
			Provider:    "openai",
			RateLimit:   2,
			Burst:       4,
			MaxRetries:  3,
			Timeout:     60 * time.Second,
			Concurrency: 4,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// APIKeyEnv returns the environment variable holding the judge provider's
// credential.
func (c JudgeConfig) APIKeyEnv() string { return providerEnv[c.Provider] }

// APIKey reads the judge provider's credential from the environment.
// The empty string means the judge cannot run.
func (c JudgeConfig) APIKey() string {
	env := c.APIKeyEnv()
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}
