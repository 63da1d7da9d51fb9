// Package config loads strainscan settings from defaults, an optional TOML
// file, and the environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/greenshelf/strainscan/internal/dedupe"
	"github.com/greenshelf/strainscan/internal/session"
	"github.com/greenshelf/strainscan/internal/stability"
)

// Provider selects and configures the inference backend.
type Provider struct {
	Name          string  `toml:"name"`
	Temperature   float64 `toml:"temperature"`
	OpenAIAPIKey  string  `toml:"openai_api_key"`
	OpenAIModel   string  `toml:"openai_model"`
	OpenAIBaseURL string  `toml:"openai_base_url"`
	OllamaURL     string  `toml:"ollama_url"`
	OllamaModel   string  `toml:"ollama_model"`
	GeminiAPIKey  string  `toml:"gemini_api_key"`
	GeminiModel   string  `toml:"gemini_model"`
}

// Server contains HTTP and capture device settings for `strainscan serve`.
type Server struct {
	Port       string `toml:"port"`
	CaptureDir string `toml:"capture_dir"`
}

// Storage configures the write-through cache and the catalog store.
type Storage struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	CacheTTLHours int    `toml:"cache_ttl_hours"`
	CatalogPath   string `toml:"catalog_path"`
}

// Session tunes the continuous capture loop. Durations are milliseconds.
type Session struct {
	StabilityIntervalMs  int     `toml:"stability_interval_ms"`
	SubmitIntervalMs     int     `toml:"submit_interval_ms"`
	RetryDelayMs         int     `toml:"retry_delay_ms"`
	StallTimeoutMs       int     `toml:"stall_timeout_ms"`
	MaxReacquireAttempts int     `toml:"max_reacquire_attempts"`
	BurstSize            int     `toml:"burst_size"`
	MaxImageDim          int     `toml:"max_image_dim"`
	MotionThreshold      float64 `toml:"motion_threshold"`
	MinSharpness         float64 `toml:"min_sharpness"`
}

// Enrichment tunes the identification pipeline.
type Enrichment struct {
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full strainscan configuration.
type Config struct {
	Provider   Provider       `toml:"provider"`
	Server     Server         `toml:"server"`
	Storage    Storage        `toml:"storage"`
	Session    Session        `toml:"session"`
	Enrichment Enrichment     `toml:"enrichment"`
	Dedupe     dedupe.Weights `toml:"dedupe"`
	Logging    Logging        `toml:"logging"`
}

// Load builds a Config from defaults, the TOML file at path (when non-empty),
// and environment variables. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Encode renders cfg as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Provider.OpenAIAPIKey = mask(masked.Provider.OpenAIAPIKey)
	masked.Provider.GeminiAPIKey = mask(masked.Provider.GeminiAPIKey)
	masked.Storage.RedisPassword = mask(masked.Storage.RedisPassword)
	return toml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// Model returns the model name for the selected provider.
func (c *Config) Model() string {
	switch c.Provider.Name {
	case "openai":
		return c.Provider.OpenAIModel
	case "gemini":
		return c.Provider.GeminiModel
	default:
		return c.Provider.OllamaModel
	}
}

// StageTimeout is the per-call inference timeout.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Enrichment.StageTimeoutSeconds) * time.Second
}

// CacheTTL is the Redis expiry for cached records.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLHours) * time.Hour
}

// SessionConfig converts the session section into loop settings.
func (c *Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.StabilityInterval = ms(c.Session.StabilityIntervalMs)
	cfg.SubmitInterval = ms(c.Session.SubmitIntervalMs)
	cfg.RetryDelay = ms(c.Session.RetryDelayMs)
	cfg.StallTimeout = ms(c.Session.StallTimeoutMs)
	cfg.MaxReacquireAttempts = c.Session.MaxReacquireAttempts
	cfg.BurstSize = c.Session.BurstSize
	cfg.MaxImageDim = c.Session.MaxImageDim

	stab := stability.DefaultConfig()
	stab.MotionThreshold = c.Session.MotionThreshold
	stab.MinSharpness = c.Session.MinSharpness
	cfg.Stability = stab
	return cfg
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
