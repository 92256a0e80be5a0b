package providers

import (
	"context"
	"fmt"
	"strings"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

// New returns the client for a provider name: openai or gemini.
func New(ctx context.Context, provider string, opts ...ProviderOption) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai", "":
		return OpenAi(ctx, opts...), nil
	case "gemini", "google":
		params := ProviderParams{}
		for _, opt := range opts {
			opt(&params)
		}
		return Gemini(ctx, params)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
