package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// unitNamespace seeds stable record ids for extracted units, so ingesting
// the same source twice replaces instead of duplicating.
var unitNamespace = uuid.MustParse("6f1c7a52-3c1e-4b0e-9d6a-8a2f5e3b9c41")

// IngestRequest is one unit of content to store and index.
type IngestRequest struct {
	Identity string
	Modality domain.Modality
	Content  []byte
	ID       string // optional; generated when empty
	Metadata domain.Metadata
}

// IngestUseCase stores original content, embeds it, and indexes the
// resulting record in the caller's namespace.
type IngestUseCase struct {
	embedder     port.Embedder
	index        port.VectorIndex
	store        port.ObjectStore
	embedTimeout time.Duration
	logger       *zap.Logger
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(embedder port.Embedder, index port.VectorIndex, store port.ObjectStore, logger *zap.Logger) *IngestUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestUseCase{
		embedder:     embedder,
		index:        index,
		store:        store,
		embedTimeout: DefaultRetrieveOptions().EmbedTimeout,
		logger:       logger,
	}
}

// WithEmbedTimeout bounds each embedding call made during ingestion.
func (u *IngestUseCase) WithEmbedTimeout(d time.Duration) *IngestUseCase {
	if d > 0 {
		u.embedTimeout = d
	}
	return u
}

// Ingest stores, embeds and upserts req, returning the record id. A failure
// after the content was stored leaves an orphaned object; re-ingesting with
// the same id repairs the record.
func (u *IngestUseCase) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	input, err := u.validate(req)
	if err != nil {
		return "", err
	}
	ns := domain.NamespaceFor(req.Identity)
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := u.logger.With(
		zap.String("request_id", RequestID(ctx)),
		zap.String("namespace", string(ns.Kind)),
		zap.String("id", id))

	ref, err := u.store.Put(ctx, req.Content)
	if err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}

	emb, err := u.embed(ctx, input)
	if err != nil {
		logger.Warn("embedding failed after content was stored", zap.String("content_ref", ref), zap.Error(err))
		return "", fmt.Errorf("failed to embed content: %w", err)
	}

	rec := domain.Record{ID: id, Embedding: emb, ContentRef: ref, Metadata: req.Metadata}
	if err := u.index.Upsert(ctx, ns, rec); err != nil {
		logger.Error("content stored but index upsert failed", zap.String("content_ref", ref), zap.Error(err))
		return "", domain.NewError(domain.KindIngestionPartial,
			fmt.Sprintf("content %s stored but record %s not indexed", ref, id), err)
	}

	logger.Debug("record ingested", zap.String("content_ref", ref), zap.String("modality", string(emb.Modality)))
	return id, nil
}

// embed calls the embedder under embedTimeout. A timeout becomes
// ModelUnavailable so callers can retry; caller cancellation passes through.
func (u *IngestUseCase) embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error) {
	ectx, cancel := context.WithTimeout(ctx, u.embedTimeout)
	defer cancel()

	emb, err := withDeadline(ectx, func(ctx context.Context) (domain.Embedding, error) {
		return u.embedder.Embed(ctx, input)
	})
	if err == nil {
		return emb, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Embedding{}, ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Embedding{}, domain.NewError(domain.KindModelUnavailable,
			fmt.Sprintf("embedding did not finish within %s", u.embedTimeout), err)
	}
	return domain.Embedding{}, err
}

func (u *IngestUseCase) validate(req IngestRequest) (domain.EmbedInput, error) {
	if len(req.Content) == 0 {
		return domain.EmbedInput{}, domain.NewError(domain.KindInput, "content must not be empty", nil)
	}
	switch req.Modality {
	case domain.ModalityText, domain.ModalityImage:
	default:
		return domain.EmbedInput{}, domain.NewError(domain.KindUnsupportedModality, fmt.Sprintf("unknown modality %q", req.Modality), nil)
	}
	if err := req.Metadata.Validate(); err != nil {
		return domain.EmbedInput{}, err
	}
	input := domain.InputFor(req.Modality, req.Content)
	if v, ok := u.embedder.(port.InputValidator); ok {
		if err := v.Validate(input); err != nil {
			return domain.EmbedInput{}, err
		}
	}
	return input, nil
}

// Delete removes a record from the caller's namespace. Unknown ids succeed.
func (u *IngestUseCase) Delete(ctx context.Context, identity, id string) error {
	if id == "" {
		return domain.NewError(domain.KindInput, "record id must not be empty", nil)
	}
	ns := domain.NamespaceFor(identity)
	if err := u.index.Delete(ctx, ns, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	u.logger.Debug("record deleted",
		zap.String("request_id", RequestID(ctx)),
		zap.String("namespace", string(ns.Kind)),
		zap.String("id", id))
	return nil
}

// IngestResult contains the results of a batch ingestion.
type IngestResult struct {
	Ingested  int
	Failed    int
	RecordIDs []string
	Errors    []string
}

// UnitID returns the stable record id for an extracted unit.
func UnitID(identity string, unit domain.Unit) string {
	return uuid.NewSHA1(unitNamespace, []byte(identity+"\x00"+unit.Source)).String()
}

// IngestUnits ingests extracted units one by one. Unit failures are
// collected, not returned; only caller cancellation stops the batch.
// progress, when non-nil, is called after every unit.
func (u *IngestUseCase) IngestUnits(ctx context.Context, identity string, units []domain.Unit, progress func()) (*IngestResult, error) {
	result := &IngestResult{}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		id, err := u.Ingest(ctx, IngestRequest{
			Identity: identity,
			Modality: unit.Modality,
			Content:  unit.Content,
			ID:       UnitID(identity, unit),
			Metadata: unit.Metadata,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", unit.Source, err))
		} else {
			result.Ingested++
			result.RecordIDs = append(result.RecordIDs, id)
		}
		if progress != nil {
			progress()
		}
	}
	return result, nil
}
