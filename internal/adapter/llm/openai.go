package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"mmrag/internal/adapter/openaicompat"
	"mmrag/internal/domain"
)

// OpenAIGenerator answers through an OpenAI-compatible chat completions
// endpoint.
type OpenAIGenerator struct {
	client      *openaicompat.Client
	model       string
	temperature float32
	prompt      *template.Template
}

// GeneratorOptions configures an OpenAIGenerator.
type GeneratorOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  uint64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a retrieval assistant. Answer only from the provided context."

func NewOpenAIGenerator(opts GeneratorOptions) (*OpenAIGenerator, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("generation model must be set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = openaicompat.OpenAIBaseURL
	}
	prompt, err := loadTemplate("answer_prompt.txt")
	if err != nil {
		return nil, err
	}
	return &OpenAIGenerator{
		client:      openaicompat.NewClient(opts.BaseURL, opts.APIKey, opts.Timeout, opts.MaxRetries),
		model:       opts.Model,
		temperature: opts.Temperature,
		prompt:      prompt,
	}, nil
}

// Prompt renders the user message sent for query and rc.
func (g *OpenAIGenerator) Prompt(query string, rc domain.RetrievalContext) (string, error) {
	return render(g.prompt, query, rc)
}

func (g *OpenAIGenerator) Generate(ctx context.Context, query string, rc domain.RetrievalContext) (string, error) {
	user, err := g.Prompt(query, rc)
	if err != nil {
		return "", err
	}

	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: g.temperature,
	}

	var resp chatResponse
	if err := g.client.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var apiErr *openaicompat.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return "", fmt.Errorf("chat request rejected: %w", err)
		}
		return "", domain.NewError(domain.KindModelUnavailable, "generation provider unavailable", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("chat response is empty")
	}
	return answer, nil
}

func (g *OpenAIGenerator) ModelName() string {
	return g.model
}
