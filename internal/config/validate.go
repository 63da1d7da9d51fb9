package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateDedupe(); err != nil {
		return err
	}
	if c.Enrichment.StageTimeoutSeconds <= 0 {
		return errors.New("enrichment.stage_timeout_seconds must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider.Name {
	case "ollama":
	case "openai":
		if c.Provider.OpenAIAPIKey == "" {
			return errors.New("provider openai requires an API key. Set OPENAI_API_KEY or provider.openai_api_key")
		}
	case "gemini":
		if c.Provider.GeminiAPIKey == "" {
			return errors.New("provider gemini requires an API key. Set GEMINI_API_KEY or provider.gemini_api_key")
		}
	default:
		return fmt.Errorf("unsupported provider: %s (supported: openai, ollama, gemini)", c.Provider.Name)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return errors.New("provider.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.StabilityIntervalMs <= 0 || s.SubmitIntervalMs <= 0 {
		return errors.New("session intervals must be positive")
	}
	if s.SubmitIntervalMs < s.StabilityIntervalMs {
		return errors.New("session.submit_interval_ms must not be shorter than session.stability_interval_ms")
	}
	if s.RetryDelayMs <= 0 || s.StallTimeoutMs <= 0 {
		return errors.New("session.retry_delay_ms and session.stall_timeout_ms must be positive")
	}
	if s.BurstSize <= 0 || s.BurstSize > 10 {
		return errors.New("session.burst_size must be between 1 and 10")
	}
	if s.MaxReacquireAttempts <= 0 {
		return errors.New("session.max_reacquire_attempts must be positive")
	}
	return nil
}

func (c *Config) validateDedupe() error {
	w := c.Dedupe
	if w.Threshold <= 0 || w.Threshold > 100 {
		return errors.New("dedupe.threshold must be between 1 and 100")
	}
	if w.FuzzyThreshold <= 0 || w.FuzzyThreshold > 1 {
		return errors.New("dedupe.fuzzy_threshold must be between 0 and 1")
	}
	if w.THCNearDelta > w.THCFarDelta || w.CBDNearDelta > w.CBDFarDelta {
		return errors.New("dedupe near deltas must not exceed far deltas")
	}
	return nil
}
