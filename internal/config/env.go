package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays environment variables onto c. Set-but-empty variables
// are ignored.
func (c *Config) applyEnv() {
	setString(&c.Provider.Name, "STRAINSCAN_PROVIDER")
	setString(&c.Provider.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Provider.OpenAIModel, "OPENAI_MODEL")
	setString(&c.Provider.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.Provider.OllamaURL, "OLLAMA_HOST")
	setString(&c.Provider.OllamaURL, "OLLAMA_URL")
	setString(&c.Provider.OllamaModel, "OLLAMA_MODEL")
	setString(&c.Provider.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Provider.GeminiModel, "GEMINI_MODEL")
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.CaptureDir, "STRAINSCAN_CAPTURE_DIR")
	setString(&c.Storage.RedisAddr, "REDIS_ADDR")
	setString(&c.Storage.RedisPassword, "REDIS_PASSWORD")
	setInt(&c.Storage.RedisDB, "REDIS_DB")
	setString(&c.Storage.CatalogPath, "STRAINSCAN_DB")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

func setInt(dst *int, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		*dst = n
	}
}
