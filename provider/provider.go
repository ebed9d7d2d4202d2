package provider

import (
	"context"
	"errors"

	"github.com/user/docqa/config"
	openai_provider "github.com/user/docqa/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// CreateEmbedding embeds the given texts, one vector per input.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Answer generates a grounded answer to the question from the context passages.
	Answer(ctx context.Context, question string, contexts []string) (string, error)
}

// StatusError reports a non-2xx response from a provider API.
type StatusError = openai_provider.StatusError

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, cfg config.OpenAIConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("providers.openai.api_key not set")
		}
		return openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
