package config

import (
	"strings"
)

func (c *Config) normalize() {
	c.normalizeProvider()
	c.normalizeLogging()
	c.Server.Port = strings.TrimPrefix(strings.TrimSpace(c.Server.Port), ":")
	c.Storage.RedisAddr = strings.TrimSpace(c.Storage.RedisAddr)
	c.Storage.CatalogPath = strings.TrimSpace(c.Storage.CatalogPath)
	if c.Storage.CacheTTLHours < 0 {
		c.Storage.CacheTTLHours = 0
	}
}

func (c *Config) normalizeProvider() {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.Name == "" {
		c.Provider.Name = defaultProvider
	}
	c.Provider.OllamaURL = strings.TrimRight(strings.TrimSpace(c.Provider.OllamaURL), "/")
	if c.Provider.OllamaURL == "" {
		c.Provider.OllamaURL = defaultOllamaURL
	}
	if c.Provider.OpenAIModel == "" {
		c.Provider.OpenAIModel = defaultOpenAIModel
	}
	if c.Provider.OllamaModel == "" {
		c.Provider.OllamaModel = defaultOllamaModel
	}
	if c.Provider.GeminiModel == "" {
		c.Provider.GeminiModel = defaultGeminiModel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
