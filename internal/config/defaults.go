package config

import (
	"github.com/greenshelf/strainscan/internal/dedupe"
	"github.com/greenshelf/strainscan/internal/stability"
)

const (
	defaultProvider    = "ollama"
	defaultOpenAIModel = "gpt-4o"
	defaultOllamaModel = "mistral-small3.2:24b"
	defaultGeminiModel = "gemini-1.5-flash"
	defaultOllamaURL   = "http://localhost:11434"
	defaultLogLevel    = "info"
)

// Default returns the configuration used when nothing else is set.
func Default() Config {
	stab := stability.DefaultConfig()
	return Config{
		Provider: Provider{
			Name:        defaultProvider,
			Temperature: 0.1,
			OpenAIModel: defaultOpenAIModel,
			OllamaURL:   defaultOllamaURL,
			OllamaModel: defaultOllamaModel,
			GeminiModel: defaultGeminiModel,
		},
		Server: Server{
			Port:       "8888",
			CaptureDir: "capture",
		},
		Storage: Storage{
			CacheTTLHours: 30 * 24,
			CatalogPath:   "data/strainscan.db",
		},
		Session: Session{
			StabilityIntervalMs:  500,
			SubmitIntervalMs:     3000,
			RetryDelayMs:         1500,
			StallTimeoutMs:       5000,
			MaxReacquireAttempts: 5,
			BurstSize:            3,
			MaxImageDim:          1024,
			MotionThreshold:      stab.MotionThreshold,
			MinSharpness:         stab.MinSharpness,
		},
		Enrichment: Enrichment{
			StageTimeoutSeconds: 30,
		},
		Dedupe: dedupe.DefaultWeights(),
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: "console",
		},
	}
}
