package port

import (
	"context"

	"mmrag/internal/domain"
)

// Generator turns an assembled retrieval context into an answer.
type Generator interface {
	// Generate answers query using only rc.
	Generate(ctx context.Context, query string, rc domain.RetrievalContext) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
