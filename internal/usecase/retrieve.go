package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// RetrieveOptions holds the pipeline limits.
type RetrieveOptions struct {
	TopK               int
	MaxContextHits     int
	MaxContextBytes    int // 0 = unbounded
	MinResolvedHits    int
	ResolveConcurrency int
	MinScore           float64 // Filter hits below this score (0 = disabled)
	PrivateFirstOnTie  bool
	EmbedTimeout       time.Duration
	SearchTimeout      time.Duration
	ResolveTimeout     time.Duration
}

// DefaultRetrieveOptions returns the defaults used when no config is given.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		TopK:               10,
		MaxContextHits:     8,
		MaxContextBytes:    32 << 10,
		MinResolvedHits:    1,
		ResolveConcurrency: 4,
		EmbedTimeout:       10 * time.Second,
		SearchTimeout:      2 * time.Second,
		ResolveTimeout:     2 * time.Second,
	}
}

// QueryRequest is one retrieval or answer request.
type QueryRequest struct {
	Identity string
	Modality domain.Modality
	Content  []byte
	TopK     int              // 0 = configured default
	Filter   *domain.Modality // restrict hits to one modality
}

// RetrieveUseCase runs the retrieval pipeline:
// embed, search every visible namespace in parallel, merge, dedup, resolve
// content with bounded parallelism, assemble.
type RetrieveUseCase struct {
	embedder port.Embedder
	index    port.VectorIndex
	resolver port.ContentResolver
	opts     RetrieveOptions
	logger   *zap.Logger
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(
	embedder port.Embedder,
	index port.VectorIndex,
	resolver port.ContentResolver,
	opts RetrieveOptions,
	logger *zap.Logger,
) *RetrieveUseCase {
	defaults := DefaultRetrieveOptions()
	if opts.ResolveConcurrency <= 0 {
		opts.ResolveConcurrency = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = defaults.EmbedTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaults.SearchTimeout
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = defaults.ResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrieveUseCase{
		embedder: embedder,
		index:    index,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

// namespaceResult is what one namespace search produced.
type namespaceResult struct {
	ns       domain.Namespace
	hits     []domain.SearchHit
	err      error
	answered bool
}

// Retrieve returns the assembled context for req. Failing namespaces and
// unresolvable hits degrade the result; embedding failures, dimension
// mismatches and caller cancellation fail it.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, req QueryRequest) (*domain.RetrievalContext, error) {
	logger := u.logger.With(zap.String("request_id", RequestID(ctx)))

	input, err := queryInput(req)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = u.opts.TopK
	}

	// Embed
	query, err := u.embed(ctx, input)
	if err != nil {
		return nil, err
	}
	logger.Debug("query embedded", zap.Int("dimension", query.Dimension()), zap.String("modality", string(query.Modality)))

	// Search
	results, err := u.search(ctx, logger, req.Identity, query, topK, req.Filter)
	if err != nil {
		return nil, err
	}

	lists := make([][]domain.SearchHit, 0, len(results))
	var causes []error
	var degraded []string
	answered := 0
	for _, r := range results {
		if !r.answered {
			causes = append(causes, fmt.Errorf("%s: %w", r.ns.Kind, r.err))
			degraded = append(degraded, string(r.ns.Kind))
			continue
		}
		answered++
		lists = append(lists, r.hits)
	}
	if answered == 0 {
		return nil, domain.NewError(domain.KindNoSearchResults, "no namespace answered", errors.Join(causes...))
	}

	// Merge, dedup, truncate
	hits := MergeHits(lists, u.opts.PrivateFirstOnTie)
	if u.opts.MinScore > 0 {
		hits = filterByThreshold(hits, u.opts.MinScore)
	}
	if len(hits) == 0 {
		return nil, domain.NewError(domain.KindNoSearchResults, "no matching records", nil)
	}
	hits = Truncate(Dedup(hits), u.opts.MaxContextHits)
	logger.Debug("hits merged", zap.Int("hits", len(hits)), zap.Int("namespaces", answered))

	// Resolve
	entries, err := u.resolve(ctx, logger, hits)
	if err != nil {
		return nil, err
	}
	if len(entries) < u.opts.MinResolvedHits {
		return nil, domain.NewError(domain.KindInsufficientContext,
			fmt.Sprintf("resolved %d of %d hits, need %d", len(entries), len(hits), u.opts.MinResolvedHits), nil)
	}

	// Assemble
	rc := Assemble(input.Text, entries, u.opts.MaxContextBytes, u.opts.MaxContextHits)
	if len(rc.Entries) < u.opts.MinResolvedHits {
		return nil, domain.NewError(domain.KindInsufficientContext,
			fmt.Sprintf("%d entries fit the %d byte budget, need %d", len(rc.Entries), u.opts.MaxContextBytes, u.opts.MinResolvedHits), nil)
	}
	rc.Degraded = degraded

	logger.Debug("context assembled",
		zap.Int("entries", len(rc.Entries)),
		zap.Int("used_bytes", rc.UsedBytes),
		zap.Strings("degraded", degraded))
	return &rc, nil
}

func queryInput(req QueryRequest) (domain.EmbedInput, error) {
	if len(req.Content) == 0 {
		return domain.EmbedInput{}, domain.NewError(domain.KindInput, "query content must not be empty", nil)
	}
	switch req.Modality {
	case domain.ModalityText, domain.ModalityImage:
	default:
		return domain.EmbedInput{}, domain.NewError(domain.KindUnsupportedModality, fmt.Sprintf("unknown modality %q", req.Modality), nil)
	}
	return domain.InputFor(req.Modality, req.Content), nil
}

func (u *RetrieveUseCase) embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error) {
	ectx, cancel := context.WithTimeout(ctx, u.opts.EmbedTimeout)
	defer cancel()

	emb, err := u.embedder.Embed(ectx, input)
	if err == nil {
		return emb, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Embedding{}, ctxErr
	}
	if domain.IsInputError(err) {
		return domain.Embedding{}, err
	}
	return domain.Embedding{}, domain.NewError(domain.KindQueryEmbeddingFailed, "failed to embed query", err)
}

// search queries every namespace visible to identity concurrently. Each
// search has its own timeout and failures are recorded, not returned. Only
// a dimension mismatch or caller cancellation aborts the stage.
func (u *RetrieveUseCase) search(ctx context.Context, logger *zap.Logger, identity string, query domain.Embedding, topK int, filter *domain.Modality) ([]namespaceResult, error) {
	namespaces := []domain.Namespace{domain.SharedNamespace()}
	if identity != "" {
		namespaces = append(namespaces, domain.PrivateNamespace(identity))
	}

	results := make([]namespaceResult, len(namespaces))
	g, gctx := errgroup.WithContext(ctx)
	for i, ns := range namespaces {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, u.opts.SearchTimeout)
			defer cancel()

			start := time.Now()
			hits, err := withDeadline(sctx, func(ctx context.Context) ([]domain.SearchHit, error) {
				return u.index.Query(ctx, ns, query, topK, filter)
			})
			if err != nil {
				if domain.KindOf(err) == domain.KindDimensionMismatch {
					return err
				}
				logger.Warn("namespace search failed",
					zap.String("namespace", string(ns.Kind)),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				results[i] = namespaceResult{ns: ns, err: err}
				return nil
			}
			results[i] = namespaceResult{ns: ns, hits: hits, answered: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolve fetches content for hits with at most ResolveConcurrency in
// flight. Hits that fail to resolve are dropped; survivors keep rank order.
func (u *RetrieveUseCase) resolve(ctx context.Context, logger *zap.Logger, hits []domain.SearchHit) ([]domain.ContextEntry, error) {
	resolved := make([]*domain.ContextEntry, len(hits))
	sem := semaphore.NewWeighted(int64(u.opts.ResolveConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, hit := range hits {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			rctx, cancel := context.WithTimeout(gctx, u.opts.ResolveTimeout)
			defer cancel()

			content, err := withDeadline(rctx, func(ctx context.Context) ([]byte, error) {
				return u.resolver.Resolve(ctx, hit.ContentRef)
			})
			if err != nil {
				logger.Warn("dropping unresolvable hit",
					zap.String("record_id", hit.RecordID),
					zap.String("content_ref", hit.ContentRef),
					zap.Error(err))
				return nil
			}
			entry := domain.ContextEntry{
				RecordID:      hit.RecordID,
				Modality:      hit.Modality,
				Score:         hit.Score,
				NamespaceKind: hit.NamespaceKind,
				ContentRef:    hit.ContentRef,
				Content:       content,
				Metadata:      hit.Metadata,
			}
			if hit.Modality == domain.ModalityText {
				entry.Text = string(content)
			}
			resolved[i] = &entry
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]domain.ContextEntry, 0, len(hits))
	for _, e := range resolved {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

// filterByThreshold removes hits below the minimum score threshold.
func filterByThreshold(hits []domain.SearchHit, min float64) []domain.SearchHit {
	filtered := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= min {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// withDeadline returns when fn does or when ctx is done, whichever comes
// first, so a backend that ignores cancellation cannot stall the stage.
func withDeadline[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
