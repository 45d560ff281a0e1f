package embedding

import (
	"fmt"

	"mmrag/config"
	"mmrag/internal/adapter/openaicompat"
)

// New builds the configured embedder wrapped in a Guard.
func New(cfg config.EmbeddingConfig) (*Guard, error) {
	limits := Limits{
		MaxTextLength:     cfg.MaxTextLength,
		MaxImageBytes:     cfg.MaxImageBytes,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}

	switch cfg.Provider {
	case "hash", "":
		return NewGuard(NewHashEmbedder(cfg.Dimension), limits), nil
	case "openai", "jina", "deepseek", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		apiKey := config.Secret(cfg.APIKeyEnv)
		if apiKey == "" && cfg.Provider != "ollama" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
		e, err := NewOpenAICompatibleEmbedder(Options{
			APIKey:     apiKey,
			Model:      cfg.Model,
			BaseURL:    baseURL,
			Dimension:  cfg.Dimension,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return NewGuard(e, limits), nil
	}
	return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "jina":
		return openaicompat.JinaBaseURL
	case "deepseek":
		return openaicompat.DeepSeekBaseURL
	case "ollama":
		return openaicompat.OllamaBaseURL
	}
	return openaicompat.OpenAIBaseURL
}
