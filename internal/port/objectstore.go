package port

import (
	"context"

	"mmrag/internal/domain"
)

// ObjectStore holds original content addressed by an opaque reference.
type ObjectStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ContentResolver maps a stored content reference back to its bytes.
type ContentResolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// Extractor splits a source into ingestible units.
type Extractor interface {
	Extract(ctx context.Context, root string) ([]domain.Unit, error)
}
