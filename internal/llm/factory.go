package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the configured client. Without an API key the returned client
// fails every call with ErrNotConfigured so llm directives fail per run.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch Provider(cfg.Provider) {
	case "", ProviderGemini:
		if cfg.APIKey == "" {
			if logger != nil {
				logger.Warn("llm api key not set; llm answers will fail", "provider", ProviderGemini)
			}
			return unconfigured{provider: ProviderGemini, model: cfg.Model}, nil
		}
		return NewGeminiClient(GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

type unconfigured struct {
	provider Provider
	model    string
}

func (u unconfigured) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}
func (u unconfigured) Provider() Provider { return u.provider }
func (u unconfigured) Model() string      { return u.model }
