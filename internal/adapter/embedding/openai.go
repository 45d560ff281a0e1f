package embedding

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"mmrag/internal/adapter/openaicompat"
	"mmrag/internal/domain"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Images
// are sent as base64 data URLs, which multimodal providers such as Jina
// accept alongside text.
type OpenAIEmbedder struct {
	client    *openaicompat.Client
	model     string
	dimension int
}

type embeddingRequest struct {
	Input []any  `json:"input"`
	Model string `json:"model"`
}

type imageInput struct {
	Image string `json:"image"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Options configures an OpenAIEmbedder.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimension  int // 0 = derive from model
	Timeout    time.Duration
	MaxRetries uint64
}

// NewOpenAICompatibleEmbedder creates an embedder for any OpenAI-compatible
// endpoint.
func NewOpenAICompatibleEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model must be set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = openaicompat.OpenAIBaseURL
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = modelDimension(opts.Model)
	}
	return &OpenAIEmbedder{
		client:    openaicompat.NewClient(opts.BaseURL, opts.APIKey, opts.Timeout, opts.MaxRetries),
		model:     opts.Model,
		dimension: dimension,
	}, nil
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3", "jina-clip-v2":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	}
	return 1536
}

// Embed embeds one text or image input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error) {
	modality, err := input.Modality()
	if err != nil {
		return domain.Embedding{}, err
	}

	var item any = input.Text
	if modality == domain.ModalityImage {
		mime := mimetype.Detect(input.Image)
		item = imageInput{Image: "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(input.Image)}
	}

	var resp embeddingResponse
	err = e.client.PostJSON(ctx, "/embeddings", embeddingRequest{Input: []any{item}, Model: e.model}, &resp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Embedding{}, ctxErr
		}
		var apiErr *openaicompat.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return domain.Embedding{}, fmt.Errorf("embedding request rejected: %w", err)
		}
		return domain.Embedding{}, domain.NewError(domain.KindModelUnavailable, "embedding provider unavailable", err)
	}
	if resp.Error != nil {
		return domain.Embedding{}, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return domain.Embedding{}, domain.NewError(domain.KindModelUnavailable, "empty embedding response", nil)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dimension {
		return domain.Embedding{}, domain.DimensionMismatch(e.dimension, len(vec))
	}
	return domain.Embedding{Vector: vec, Modality: modality, Model: e.model}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
