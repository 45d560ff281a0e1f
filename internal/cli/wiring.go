package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mmrag/config"
	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/llm"
	"mmrag/internal/adapter/objectstore"
	"mmrag/internal/adapter/resolver"
	"mmrag/internal/adapter/vectorindex"
	"mmrag/internal/port"
	"mmrag/internal/usecase"
)

// app holds the components wired for one command run.
type app struct {
	index    port.VectorIndex
	store    objectstore.Store
	ingest   *usecase.IngestUseCase
	retrieve *usecase.RetrieveUseCase
	answer   *usecase.AnswerUseCase // nil unless generation was requested
}

// buildApp wires embedder, index, store and use cases from the loaded
// config. Generators are only built when withAnswer is set, so commands
// that never generate do not need generation credentials.
func buildApp(ctx context.Context, withAnswer bool) (*app, error) {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	index, err := openIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	store, err := objectstore.Open(ctx, cfg.Store, rootDir, logger)
	if err != nil {
		closeIndex(index)
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	var res port.ContentResolver = resolver.New(store)
	if cfg.Store.CacheEntries > 0 {
		res, err = resolver.NewCachingResolver(res, cfg.Store.CacheEntries)
		if err != nil {
			closeIndex(index)
			_ = store.Close()
			return nil, err
		}
	}

	a := &app{
		index:    index,
		store:    store,
		ingest:   usecase.NewIngestUseCase(embedder, index, store, logger).WithEmbedTimeout(cfg.Embedding.Timeout),
		retrieve: usecase.NewRetrieveUseCase(embedder, index, res, retrieveOptions(cfg.Retrieve), logger),
	}

	if withAnswer {
		generator, fallback, err := llm.New(cfg.Generation)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		a.answer = usecase.NewAnswerUseCase(a.retrieve, generator, fallback, cfg.Generation.Timeout, logger)
	}

	logger.Debug("components wired",
		zap.String("embedder", embedder.ModelName()),
		zap.Int("dimension", embedder.Dimension()),
		zap.String("store", cfg.Store.Backend))
	return a, nil
}

func (a *app) Close() {
	closeIndex(a.index)
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close object store", zap.Error(err))
	}
}

// openIndex opens the configured index. The in-process index is persisted
// under the data directory unless a path or remote URL is configured.
func openIndex(cfg *config.Config) (port.VectorIndex, error) {
	path := cfg.Index.Path
	if path == "" && cfg.Index.RemoteURL == "" {
		path = config.IndexDBPath(rootDir)
	}
	return vectorindex.Open(vectorindex.Options{
		RemoteURL:       cfg.Index.RemoteURL,
		Path:            path,
		Timeout:         cfg.Index.Timeout,
		ConfigHash:      indexConfigHash(cfg),
		RebuildOnChange: cfg.Index.RebuildOnChange,
		Logger:          logger,
	})
}

func indexConfigHash(cfg *config.Config) string {
	return vectorindex.ComputeConfigHash(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.Dimension)
}

func closeIndex(index port.VectorIndex) {
	if err := index.Close(); err != nil {
		logger.Warn("failed to close vector index", zap.Error(err))
	}
}

func retrieveOptions(rc config.RetrieveConfig) usecase.RetrieveOptions {
	return usecase.RetrieveOptions{
		TopK:               rc.TopK,
		MaxContextHits:     rc.MaxContextHits,
		MaxContextBytes:    rc.MaxContextBytes,
		MinResolvedHits:    rc.MinResolvedHits,
		ResolveConcurrency: rc.ResolveConcurrency,
		MinScore:           rc.MinScore,
		PrivateFirstOnTie:  rc.PrivateFirstOnTie,
		EmbedTimeout:       rc.EmbedTimeout,
		SearchTimeout:      rc.SearchTimeout,
		ResolveTimeout:     rc.ResolveTimeout,
	}
}
