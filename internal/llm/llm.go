// Package llm reaches hosted text-completion services. Every failure it
// returns carries one of three kinds from internal/errors: configuration,
// rate_limited or remote.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Request is a single synchronous completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completion is the generated text plus accounting details.
type Completion struct {
	Text   string
	Model  string
	Tokens int
}

// Completer produces text for a system instruction and a user message.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Name() string
}

type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewCompleter builds the client for cfg.Provider. An empty API key is
// accepted here; each Complete call rejects it with a configuration error.
func NewCompleter(cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	switch provider {
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			cfg.BaseURL = "https://api.openai.com"
		}
		if strings.TrimSpace(cfg.Model) == "" {
			cfg.Model = "gpt-4.1-nano"
		}
		return NewOpenAIClient(cfg)
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			cfg.BaseURL = "https://api.anthropic.com"
		}
		if strings.TrimSpace(cfg.Model) == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (supported: openai, anthropic)", cfg.Provider)
	}
}

func requireAPIKey(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return chaterrors.New(chaterrors.KindConfiguration, "model api key is not configured")
	}
	return nil
}

func clientTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 30 * time.Second
	}
	return timeout
}

// statusError maps a non-2xx response to a kinded error. 429 is the only
// status treated as a rate limit.
func statusError(status int, message string) error {
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}
	if status == 429 {
		return chaterrors.New(chaterrors.KindRateLimited, message)
	}
	return chaterrors.New(chaterrors.KindRemote, fmt.Sprintf("completion failed status=%d: %s", status, message))
}
