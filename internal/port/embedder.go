package port

import (
	"context"

	"mmrag/internal/domain"
)

// Embedder maps a text or image input to a fixed-dimension vector.
type Embedder interface {
	// Embed returns the embedding for exactly one of input.Text or
	// input.Image. Identical input and model yield identical vectors.
	Embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// InputValidator is implemented by embedders that can reject an input
// without calling the model.
type InputValidator interface {
	Validate(input domain.EmbedInput) error
}
