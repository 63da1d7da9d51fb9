package cmd

import (
	"fmt"

	"github.com/greenshelf/strainscan/internal/config"
	"github.com/greenshelf/strainscan/internal/gemini"
	"github.com/greenshelf/strainscan/internal/ollama"
	"github.com/greenshelf/strainscan/internal/openai"
	"github.com/greenshelf/strainscan/internal/providers"
)

// newProvider builds the inference backend named in cfg
func newProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Provider.Name {
	case "ollama":
		return ollama.New(cfg.Provider.OllamaURL, nil), nil
	case "openai":
		return openai.New(cfg.Provider.OpenAIAPIKey, cfg.Provider.OpenAIBaseURL, nil), nil
	case "gemini":
		return gemini.New(cfg.Provider.GeminiAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider.Name)
	}
}
