package providers

import (
	"context"
	"encoding/base64"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without any content
var ErrEmptyResponse = errors.New("empty response from provider")

// Image is an encoded image payload sent alongside a prompt
type Image struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the standard base64 encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the image as a data: URI
func (i Image) DataURI() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + i.Base64()
}

// Config represents the configuration for a single provider call
type Config struct {
	Model        string
	Temperature  float64
	SystemPrompt string
	Prompt       string
	Images       []Image
	// JSON asks the provider for a structured JSON response
	JSON      bool
	MaxTokens int
}

// Provider defines the interface for an LLM provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}
