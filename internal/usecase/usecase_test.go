package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/objectstore"
	"mmrag/internal/adapter/resolver"
	"mmrag/internal/adapter/vectorindex"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// scriptedIndex wraps a real index and lets a test override queries per
// namespace kind or fail upserts.
type scriptedIndex struct {
	port.VectorIndex
	query     map[domain.NamespaceKind]func(ctx context.Context) ([]domain.SearchHit, error)
	upsertErr error
}

func (s *scriptedIndex) Query(ctx context.Context, ns domain.Namespace, q domain.Embedding, topK int, f *domain.Modality) ([]domain.SearchHit, error) {
	if fn, ok := s.query[ns.Kind]; ok {
		return fn(ctx)
	}
	return s.VectorIndex.Query(ctx, ns, q, topK, f)
}

func (s *scriptedIndex) Upsert(ctx context.Context, ns domain.Namespace, rec domain.Record) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.VectorIndex.Upsert(ctx, ns, rec)
}

type failingEmbedder struct {
	port.Embedder
	err error
}

func (f failingEmbedder) Embed(context.Context, domain.EmbedInput) (domain.Embedding, error) {
	return domain.Embedding{}, f.err
}

type flakyResolver struct {
	next port.ContentResolver
	bad  map[string]bool
}

func (f flakyResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if f.bad[ref] {
		return nil, domain.NewError(domain.KindStoreUnavailable, "down", nil)
	}
	return f.next.Resolve(ctx, ref)
}

// blockingResolver parks every call until its context ends and reports the
// context error it observed.
type blockingResolver struct {
	started chan string
	seen    chan error
}

func newBlockingResolver(n int) *blockingResolver {
	return &blockingResolver{started: make(chan string, n), seen: make(chan error, n)}
}

func (b *blockingResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	b.started <- ref
	<-ctx.Done()
	b.seen <- ctx.Err()
	return nil, ctx.Err()
}

// stuckEmbedder ignores its context and blocks until release is closed.
type stuckEmbedder struct {
	port.Embedder
	release chan struct{}
}

func (s stuckEmbedder) Embed(context.Context, domain.EmbedInput) (domain.Embedding, error) {
	<-s.release
	return domain.Embedding{}, errors.New("released")
}

type stubGenerator struct {
	name string
	text string
	err  error
}

func (g stubGenerator) Generate(ctx context.Context, query string, rc domain.RetrievalContext) (string, error) {
	return g.text, g.err
}

func (g stubGenerator) ModelName() string { return g.name }

type fixture struct {
	embedder *embedding.Guard
	index    *vectorindex.MemoryIndex
	store    *objectstore.MemoryStore
	ingest   *IngestUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder := embedding.NewGuard(embedding.NewHashEmbedder(256), embedding.Limits{MaxTextLength: 100, MaxImageBytes: 1024})
	index := vectorindex.NewMemoryIndex()
	store := objectstore.NewMemoryStore()
	return &fixture{
		embedder: embedder,
		index:    index,
		store:    store,
		ingest:   NewIngestUseCase(embedder, index, store, zap.NewNop()),
	}
}

func (f *fixture) put(t *testing.T, identity, id, text string) {
	t.Helper()
	_, err := f.ingest.Ingest(context.Background(), IngestRequest{
		Identity: identity, Modality: domain.ModalityText, Content: []byte(text), ID: id,
	})
	require.NoError(t, err)
}

func (f *fixture) retriever(index port.VectorIndex, res port.ContentResolver, opts RetrieveOptions) *RetrieveUseCase {
	if index == nil {
		index = f.index
	}
	if res == nil {
		res = resolver.New(f.store)
	}
	return NewRetrieveUseCase(f.embedder, index, res, opts, zap.NewNop())
}

func textQuery(identity, text string) QueryRequest {
	return QueryRequest{Identity: identity, Modality: domain.ModalityText, Content: []byte(text)}
}

func hit(id string, score float64, kind domain.NamespaceKind, ref string) domain.SearchHit {
	return domain.SearchHit{RecordID: id, Score: score, NamespaceKind: kind, ContentRef: ref, Modality: domain.ModalityText}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func hitIDs(hits []domain.SearchHit) []string {
	return ids(hits, func(h domain.SearchHit) string { return h.RecordID })
}

func entryIDs(entries []domain.ContextEntry) []string {
	return ids(entries, func(e domain.ContextEntry) string { return e.RecordID })
}

func TestMergeHits(t *testing.T) {
	shared := []domain.SearchHit{hit("b", 0.9, domain.NamespaceShared, "1"), hit("z", 0.5, domain.NamespaceShared, "2")}
	private := []domain.SearchHit{hit("a", 0.9, domain.NamespacePrivate, "3"), hit("c", 0.7, domain.NamespacePrivate, "4")}

	merged := MergeHits([][]domain.SearchHit{private, shared}, false)
	assert.Equal(t, []string{"b", "a", "c", "z"}, hitIDs(merged))

	merged = MergeHits([][]domain.SearchHit{shared, private}, true)
	assert.Equal(t, []string{"a", "b", "c", "z"}, hitIDs(merged))

	same := []domain.SearchHit{hit("y", 0.5, domain.NamespaceShared, ""), hit("x", 0.5, domain.NamespaceShared, "")}
	assert.Equal(t, []string{"x", "y"}, hitIDs(MergeHits([][]domain.SearchHit{same}, false)))
}

func TestDedupAndTruncate(t *testing.T) {
	hits := []domain.SearchHit{
		hit("s1", 0.9, domain.NamespaceShared, "same"),
		hit("p1", 0.8, domain.NamespacePrivate, "same"),
		hit("s2", 0.7, domain.NamespaceShared, ""),
		hit("p2", 0.6, domain.NamespacePrivate, ""),
		hit("s3", 0.5, domain.NamespaceShared, "other"),
	}
	deduped := Dedup(hits)
	assert.Equal(t, []string{"s1", "s2", "p2", "s3"}, hitIDs(deduped))
	assert.Equal(t, []string{"s1", "s2"}, hitIDs(Truncate(deduped, 2)))
	assert.Len(t, Truncate(deduped, 0), 4)
}

func TestAssemble_SkipsOversizedEntries(t *testing.T) {
	entry := func(id string, size int) domain.ContextEntry {
		return domain.ContextEntry{RecordID: id, Content: make([]byte, size)}
	}
	entries := []domain.ContextEntry{entry("a", 10), entry("big", 30), entry("c", 5), entry("d", 6)}

	rc := Assemble("q", entries, 20, 10)
	assert.Equal(t, []string{"a", "c"}, entryIDs(rc.Entries))
	assert.Equal(t, 15, rc.UsedBytes)
	assert.Equal(t, 20, rc.BudgetBytes)

	rc = Assemble("q", entries, 0, 2)
	assert.Equal(t, []string{"a", "big"}, entryIDs(rc.Entries))
}

func TestRetrieve_SkyScenario(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")
	f.put(t, "alice", "p1", "Private note")

	rc, err := f.retriever(nil, nil, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("alice", "sky color"))
	require.NoError(t, err)
	require.Len(t, rc.Entries, 2)
	assert.Equal(t, "u1", rc.Entries[0].RecordID)
	assert.InDelta(t, 0.75, rc.Entries[0].Score, 1e-6)
	assert.Equal(t, "The sky is blue", rc.Entries[0].Text)
	assert.Equal(t, domain.NamespacePrivate, rc.Entries[1].NamespaceKind)
	assert.Equal(t, "sky color", rc.Query)
	assert.Empty(t, rc.Degraded)

	// bob cannot see alice's note
	rc, err = f.retriever(nil, nil, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("bob", "sky color"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, entryIDs(rc.Entries))
}

func TestRetrieve_PrivateTimeoutDegrades(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")

	release := make(chan struct{})
	defer close(release)
	index := &scriptedIndex{VectorIndex: f.index, query: map[domain.NamespaceKind]func(context.Context) ([]domain.SearchHit, error){
		// ignores cancellation entirely
		domain.NamespacePrivate: func(context.Context) ([]domain.SearchHit, error) {
			<-release
			return nil, nil
		},
	}}
	opts := DefaultRetrieveOptions()
	opts.SearchTimeout = 50 * time.Millisecond

	start := time.Now()
	rc, err := f.retriever(index, nil, opts).Retrieve(context.Background(), textQuery("alice", "sky color"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"u1"}, entryIDs(rc.Entries))
	assert.Equal(t, []string{"private"}, rc.Degraded)
}

func TestRetrieve_NoSearchResults(t *testing.T) {
	f := newFixture(t)

	_, err := f.retriever(nil, nil, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("alice", "anything"))
	assert.True(t, errors.Is(err, domain.ErrNoSearchResults))

	down := errors.New("connection refused")
	index := &scriptedIndex{VectorIndex: f.index, query: map[domain.NamespaceKind]func(context.Context) ([]domain.SearchHit, error){
		domain.NamespaceShared:  func(context.Context) ([]domain.SearchHit, error) { return nil, down },
		domain.NamespacePrivate: func(context.Context) ([]domain.SearchHit, error) { return nil, down },
	}}
	_, err = f.retriever(index, nil, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("alice", "anything"))
	assert.True(t, errors.Is(err, domain.ErrNoSearchResults))
	assert.ErrorIs(t, err, down)

	f.put(t, "", "u1", "The sky is blue")
	opts := DefaultRetrieveOptions()
	opts.MinScore = 0.9
	_, err = f.retriever(nil, nil, opts).Retrieve(context.Background(), textQuery("", "sky color"))
	assert.True(t, errors.Is(err, domain.ErrNoSearchResults))
}

func TestRetrieve_DimensionMismatchIsFatal(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")
	index := &scriptedIndex{VectorIndex: f.index, query: map[domain.NamespaceKind]func(context.Context) ([]domain.SearchHit, error){
		domain.NamespacePrivate: func(context.Context) ([]domain.SearchHit, error) {
			return nil, domain.DimensionMismatch(128, 256)
		},
	}}
	_, err := f.retriever(index, nil, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("alice", "sky"))
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func TestRetrieve_PartialResolve(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")
	f.put(t, "", "u2", "The sky is grey")
	badRef := objectstore.Ref([]byte("The sky is grey"))
	res := flakyResolver{next: resolver.New(f.store), bad: map[string]bool{badRef: true}}

	rc, err := f.retriever(nil, res, DefaultRetrieveOptions()).Retrieve(context.Background(), textQuery("", "sky"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, entryIDs(rc.Entries))

	opts := DefaultRetrieveOptions()
	opts.MinResolvedHits = 2
	_, err = f.retriever(nil, res, opts).Retrieve(context.Background(), textQuery("", "sky"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientContext))

	opts = DefaultRetrieveOptions()
	opts.MinResolvedHits = 2
	opts.MaxContextBytes = 16
	_, err = f.retriever(nil, nil, opts).Retrieve(context.Background(), textQuery("", "sky"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientContext), "only one entry fits the budget")
}

func TestRetrieve_DedupBeforeTruncate(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "a", "The sky is blue")
	f.put(t, "", "b", "The sky is blue")
	f.put(t, "", "c", "Blue sky today")

	opts := DefaultRetrieveOptions()
	opts.MaxContextHits = 2
	rc, err := f.retriever(nil, nil, opts).Retrieve(context.Background(), textQuery("", "sky blue"))
	require.NoError(t, err)
	assert.Len(t, rc.Entries, 2)
	assert.NotEqual(t, rc.Entries[0].ContentRef, rc.Entries[1].ContentRef)
}

func TestRetrieve_InputAndEmbeddingErrors(t *testing.T) {
	f := newFixture(t)
	u := f.retriever(nil, nil, DefaultRetrieveOptions())
	ctx := context.Background()

	_, err := u.Retrieve(ctx, QueryRequest{Modality: domain.ModalityText})
	assert.True(t, errors.Is(err, domain.ErrInput))

	_, err = u.Retrieve(ctx, QueryRequest{Modality: "audio", Content: []byte("x")})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedModality))

	_, err = u.Retrieve(ctx, QueryRequest{Modality: domain.ModalityText, Content: make([]byte, 101)})
	assert.True(t, errors.Is(err, domain.ErrInputTooLarge))

	broken := NewRetrieveUseCase(failingEmbedder{Embedder: f.embedder, err: domain.NewError(domain.KindModelUnavailable, "down", nil)},
		f.index, resolver.New(f.store), DefaultRetrieveOptions(), nil)
	_, err = broken.Retrieve(ctx, textQuery("", "sky"))
	assert.True(t, errors.Is(err, domain.ErrQueryEmbeddingFailed))
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = u.Retrieve(cancelled, textQuery("", "sky"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieve_CancelStopsInFlightSearches(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")

	started := make(chan domain.NamespaceKind, 2)
	seen := make(chan error, 2)
	block := func(kind domain.NamespaceKind) func(ctx context.Context) ([]domain.SearchHit, error) {
		return func(ctx context.Context) ([]domain.SearchHit, error) {
			started <- kind
			<-ctx.Done()
			seen <- ctx.Err()
			return nil, ctx.Err()
		}
	}
	idx := &scriptedIndex{VectorIndex: f.index, query: map[domain.NamespaceKind]func(ctx context.Context) ([]domain.SearchHit, error){
		domain.NamespaceShared:  block(domain.NamespaceShared),
		domain.NamespacePrivate: block(domain.NamespacePrivate),
	}}
	opts := DefaultRetrieveOptions()
	opts.SearchTimeout = 10 * time.Second
	u := f.retriever(idx, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() {
		_, err := u.Retrieve(ctx, textQuery("alice", "sky color"))
		errs <- err
	}()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("namespace searches did not start")
		}
	}
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retrieve did not return after cancellation")
	}
	for range 2 {
		select {
		case err := <-seen:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("a namespace search never saw its context end")
		}
	}
}

func TestRetrieve_CancelStopsInFlightResolves(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")
	f.put(t, "", "u2", "Sky at night")

	res := newBlockingResolver(2)
	opts := DefaultRetrieveOptions()
	opts.ResolveConcurrency = 2
	opts.ResolveTimeout = 10 * time.Second
	u := f.retriever(nil, res, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() {
		rc, err := u.Retrieve(ctx, textQuery("", "sky"))
		assert.Nil(t, rc)
		errs <- err
	}()

	for range 2 {
		select {
		case <-res.started:
		case <-time.After(2 * time.Second):
			t.Fatal("resolves did not start")
		}
	}
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retrieve did not return after cancellation")
	}
	for range 2 {
		select {
		case err := <-res.seen:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("a resolve never saw its context end")
		}
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.ingest.Ingest(ctx, IngestRequest{Modality: domain.ModalityText, Content: []byte("hello world")})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.index.Count(domain.SharedNamespace()))
	assert.Equal(t, 1, f.store.Len())

	_, err = f.ingest.Ingest(ctx, IngestRequest{Modality: domain.ModalityImage, Content: make([]byte, 2048)})
	assert.True(t, errors.Is(err, domain.ErrInputTooLarge))
	assert.Equal(t, 1, f.store.Len(), "rejected before storing")

	_, err = f.ingest.Ingest(ctx, IngestRequest{Modality: domain.ModalityText, Content: []byte("x"),
		Metadata: domain.Metadata{{Key: "", Value: "v"}}})
	assert.True(t, errors.Is(err, domain.ErrInput))

	require.NoError(t, f.ingest.Delete(ctx, "", id))
	require.NoError(t, f.ingest.Delete(ctx, "", id))
	assert.Equal(t, 0, f.index.Count(domain.SharedNamespace()))
	assert.True(t, errors.Is(f.ingest.Delete(ctx, "", ""), domain.ErrInput))
}

func TestIngest_PartialFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	index := &scriptedIndex{VectorIndex: f.index, upsertErr: domain.NewError(domain.KindBackendUnavailable, "down", nil)}
	u := NewIngestUseCase(f.embedder, index, f.store, zap.NewNop())
	_, err := u.Ingest(ctx, IngestRequest{Identity: "alice", Modality: domain.ModalityText, Content: []byte("note")})
	assert.True(t, errors.Is(err, domain.ErrIngestionPartial))
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
	assert.Equal(t, 1, f.store.Len(), "orphan stays in the store")

	broken := NewIngestUseCase(failingEmbedder{Embedder: f.embedder, err: domain.NewError(domain.KindModelUnavailable, "down", nil)},
		f.index, f.store, zap.NewNop())
	_, err = broken.Ingest(ctx, IngestRequest{Modality: domain.ModalityText, Content: []byte("other")})
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
	assert.Equal(t, 0, f.index.Count(domain.SharedNamespace()))
}

func TestIngest_EmbedTimeout(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	u := NewIngestUseCase(stuckEmbedder{Embedder: f.embedder, release: release}, f.index, f.store, zap.NewNop()).
		WithEmbedTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err := u.Ingest(context.Background(), IngestRequest{Modality: domain.ModalityText, Content: []byte("slow")})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 0, f.index.Count(domain.SharedNamespace()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = u.WithEmbedTimeout(10*time.Second).Ingest(ctx, IngestRequest{Modality: domain.ModalityText, Content: []byte("slow")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestUnits_StableIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	units := []domain.Unit{
		{Source: "a.md#0", Modality: domain.ModalityText, Content: []byte("first paragraph")},
		{Source: "a.md#1", Modality: domain.ModalityText, Content: []byte("second paragraph")},
		{Source: "b.md#0", Modality: domain.ModalityText, Content: nil},
	}

	var mu sync.Mutex
	calls := 0
	progress := func() { mu.Lock(); calls++; mu.Unlock() }

	res, err := f.ingest.IngestUnits(ctx, "alice", units, progress)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, UnitID("alice", units[0]), res.RecordIDs[0])

	res, err = f.ingest.IngestUnits(ctx, "alice", units[:2], nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 2, f.index.Count(domain.PrivateNamespace("alice")), "re-ingest replaces")
	assert.NotEqual(t, UnitID("alice", units[0]), UnitID("bob", units[0]))
}

func TestAnswer(t *testing.T) {
	f := newFixture(t)
	f.put(t, "", "u1", "The sky is blue")
	retrieve := f.retriever(nil, nil, DefaultRetrieveOptions())
	ctx := context.Background()

	ok := stubGenerator{name: "primary", text: "Blue."}
	ans, err := NewAnswerUseCase(retrieve, ok, nil, time.Second, nil).Answer(ctx, textQuery("", "sky color"))
	require.NoError(t, err)
	assert.Equal(t, "Blue.", ans.Answer)
	assert.Equal(t, "primary", ans.Generator)
	assert.Equal(t, []string{"u1"}, entryIDs(ans.Citations))

	bad := stubGenerator{name: "primary", err: errors.New("boom")}
	_, err = NewAnswerUseCase(retrieve, bad, nil, time.Second, nil).Answer(ctx, textQuery("", "sky color"))
	assert.True(t, errors.Is(err, domain.ErrGenerationFailed))

	fallback := stubGenerator{name: "template", text: "Found 1 source."}
	ans, err = NewAnswerUseCase(retrieve, bad, fallback, time.Second, nil).Answer(ctx, textQuery("", "sky color"))
	require.NoError(t, err)
	assert.Equal(t, "template", ans.Generator)
	assert.Equal(t, "Found 1 source.", ans.Answer)

	_, err = NewAnswerUseCase(retrieve, bad, bad, time.Second, nil).Answer(ctx, textQuery("", "sky color"))
	assert.True(t, errors.Is(err, domain.ErrGenerationFailed))

	_, err = NewAnswerUseCase(retrieve, ok, nil, time.Second, nil).Answer(ctx, textQuery("", "nothing matches"))
	require.NoError(t, err, "shared record still answers with a low score")
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.NotEmpty(t, RequestID(context.Background()))
}
