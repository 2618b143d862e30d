// Package agent adapts generative model providers to consultation.ModelClient.
package agent

import (
	"context"
	"fmt"
	"strings"

	"gendoc/internal/consultation"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Settings are the sampling and safety knobs shared by all providers.
// Safety maps a harm category (harassment, hate_speech, sexually_explicit,
// dangerous_content) to a threshold (none, low_and_above, medium_and_above,
// only_high). Providers without safety filters ignore it.
type Settings struct {
	Model           string
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	Safety          map[string]string
}

// Config selects and authenticates a provider. BaseURL overrides the API
// endpoint of the OpenAI provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Settings Settings
}

// Client is a model client that owns network resources.
type Client interface {
	consultation.ModelClient
	Close() error
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for model provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Settings)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Settings), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
