package llm

import (
	"fmt"

	"mmrag/config"
	"mmrag/internal/adapter/openaicompat"
	"mmrag/internal/port"
)

// New builds the configured generator and optional fallback.
func New(cfg config.GenerationConfig) (generator, fallback port.Generator, err error) {
	switch cfg.Provider {
	case "template", "":
		generator, err = NewTemplateGenerator()
	case "openai", "deepseek", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			switch cfg.Provider {
			case "deepseek":
				baseURL = openaicompat.DeepSeekBaseURL
			case "ollama":
				baseURL = openaicompat.OllamaBaseURL
			default:
				baseURL = openaicompat.OpenAIBaseURL
			}
		}
		apiKey := config.Secret(cfg.APIKeyEnv)
		if apiKey == "" && cfg.Provider != "ollama" {
			return nil, nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
		generator, err = NewOpenAIGenerator(GeneratorOptions{
			APIKey:     apiKey,
			Model:      cfg.Model,
			BaseURL:    baseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
	default:
		return nil, nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.Fallback == "template" {
		fallback, err = NewTemplateGenerator()
		if err != nil {
			return nil, nil, err
		}
	}
	return generator, fallback, nil
}
