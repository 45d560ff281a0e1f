package port

import (
	"context"

	"mmrag/internal/domain"
)

// VectorIndex stores records per namespace and answers nearest-neighbour
// queries. All implementations rank identically.
type VectorIndex interface {
	// Upsert inserts or replaces a record by id.
	Upsert(ctx context.Context, ns domain.Namespace, rec domain.Record) error

	// Query returns up to topK hits from ns ordered by descending score,
	// ties broken by ascending record id. A nil filter matches every
	// modality.
	Query(ctx context.Context, ns domain.Namespace, query domain.Embedding, topK int, filter *domain.Modality) ([]domain.SearchHit, error)

	// Delete removes a record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, ns domain.Namespace, id string) error

	Close() error
}
