package config

import (
	"os"
	"time"

	"github.com/engramhq/engram/errors"
)

type ModelConfig struct {
	// OpenAIAPIKey authorizes the OpenAI embedder and refiner.
	// Env: OPENAI_API_KEY
	OpenAIAPIKey string `json:"openaiApiKey,omitempty"`

	// AnthropicAPIKey authorizes the Anthropic refiner.
	// Env: ANTHROPIC_API_KEY
	AnthropicAPIKey string `json:"anthropicApiKey,omitempty"`

	// NomicAPIKey / NomicAPIURL configure the HTTP embedding endpoint used
	// when OpenAI embeddings are not wanted.
	// Env: NOMIC_API_KEY, NOMIC_API_URL
	NomicAPIKey string `json:"nomicApiKey,omitempty"`
	NomicAPIURL string `json:"nomicApiUrl,omitempty"`

	// EmbeddingModel names the embedding model of the chosen provider.
	// Default: "text-embedding-3-small"
	EmbeddingModel string `json:"embeddingModel,omitempty"`

	// RefineModel names the generation model used for assisted segmentation.
	// Default: "claude-sonnet-4-20250514" when Anthropic is configured,
	// otherwise "gpt-4o-mini".
	RefineModel string `json:"refineModel,omitempty"`

	// MaxRetries / RetryBackoff bound the retry loop around collaborator
	// calls. Exhausted retries fail the operation, never degrade it.
	// Default: 3 retries, 500ms initial backoff (doubling)
	MaxRetries   int           `json:"maxRetries,omitempty"`
	RetryBackoff time.Duration `json:"retryBackoff,omitempty"`
}

func NewModelConfig() *ModelConfig {
	config := &ModelConfig{
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		NomicAPIKey:     os.Getenv("NOMIC_API_KEY"),
		NomicAPIURL:     os.Getenv("NOMIC_API_URL"),
		EmbeddingModel:  "text-embedding-3-small",
		MaxRetries:      3,
		RetryBackoff:    500 * time.Millisecond,
	}
	if config.NomicAPIURL == "" {
		config.NomicAPIURL = "https://api-atlas.nomic.ai/v1/embedding/text"
	}
	if config.RefineModel == "" {
		if config.AnthropicAPIKey != "" {
			config.RefineModel = "claude-sonnet-4-20250514"
		} else {
			config.RefineModel = "gpt-4o-mini"
		}
	}
	return config
}

// Validate checks that at least one embedding provider is usable.
func (c *ModelConfig) Validate() error {
	if c.OpenAIAPIKey == "" && c.NomicAPIKey == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "no embedding provider configured")
	}
	return nil
}
