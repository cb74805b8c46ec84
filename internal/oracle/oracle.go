// Package oracle turns a diagnosis request into a proposed patch by asking a
// language model. Two backends exist: the Claude CLI and any
// OpenAI-compatible chat completion endpoint (Groq by default).
package oracle

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/harrison/mender/internal/repair"
)

// Provider names accepted by New
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
)

// ErrMalformedResponse indicates the model answered with something that is
// not a valid proposal.
var ErrMalformedResponse = errors.New("malformed oracle response")

// Config selects and configures an oracle backend.
type Config struct {
	Provider    string  // claude, openai or groq
	Model       string  // Model name (backend default when empty)
	BaseURL     string  // API base URL for openai/groq
	APIKeyEnv   string  // Environment variable holding the API key
	ClaudePath  string  // Path to the claude binary
	Temperature float32 // Sampling temperature for openai/groq
}

// New builds the oracle named by cfg.Provider.
func New(cfg Config) (repair.Oracle, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderClaude:
		return NewClaudeOracle(cfg.ClaudePath, cfg.Model), nil

	case ProviderGroq, ProviderOpenAI:
		provider := strings.ToLower(cfg.Provider)
		keyEnv := cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = defaultKeyEnv(provider)
		}
		key := strings.TrimSpace(os.Getenv(keyEnv))
		if key == "" {
			return nil, fmt.Errorf("%s oracle: %s is not set", provider, keyEnv)
		}

		baseURL, model := cfg.BaseURL, cfg.Model
		if provider == ProviderGroq {
			if baseURL == "" {
				baseURL = DefaultGroqBaseURL
			}
			if model == "" {
				model = DefaultGroqModel
			}
		} else if model == "" {
			model = DefaultOpenAIModel
		}
		return NewOpenAIOracle(key, baseURL, model, cfg.Temperature), nil

	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

func defaultKeyEnv(provider string) string {
	if provider == ProviderGroq {
		return "GROQ_API_KEY"
	}
	return "OPENAI_API_KEY"
}
