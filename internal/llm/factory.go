package llm

import (
	"log/slog"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/config"
)

// NewProvider builds the adapter for a configured profile.
func NewProvider(p config.ProfileConfig, logger *slog.Logger) (Provider, error) {
	opts := Options{
		Name:           p.Name,
		BaseURL:        p.BaseURL,
		APIKey:         p.APIKey,
		Region:         p.Region,
		Timeouts:       TimeoutPolicy(p.Timeouts),
		MaxConcurrency: p.MaxConcurrency,
		Logger:         logger,
	}

	switch p.Kind {
	case config.KindOpenAI:
		return NewOpenAIAdapter(opts), nil
	case config.KindOllama:
		return NewOllamaAdapter(opts), nil
	case config.KindAnthropic:
		return NewAnthropicAdapter(opts), nil
	case config.KindBedrock:
		return NewBedrockAdapter(opts), nil
	default:
		return nil, apperr.Configuration("profile %s: unsupported provider kind %q", p.Name, p.Kind)
	}
}

// NewProviders builds one adapter per configured profile.
func NewProviders(cfg config.Config, logger *slog.Logger) (map[string]Provider, error) {
	out := make(map[string]Provider, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		p.Name = name
		prov, err := NewProvider(p, logger)
		if err != nil {
			return nil, err
		}
		out[name] = prov
	}
	return out, nil
}
