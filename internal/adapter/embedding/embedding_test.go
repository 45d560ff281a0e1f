package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/config"
	"mmrag/internal/adapter/vectorindex"
	"mmrag/internal/domain"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, domain.EmbedInput{Text: "The sky is blue"})
	require.NoError(t, err)
	b, err := e.Embed(ctx, domain.EmbedInput{Text: "The sky is blue"})
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector)
	assert.Equal(t, 64, a.Dimension())
	assert.Equal(t, domain.ModalityText, a.Modality)
	assert.Equal(t, "hash-v1", a.Model)
}

func TestHashEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	q, err := e.Embed(ctx, domain.EmbedInput{Text: "sky color"})
	require.NoError(t, err)
	related, err := e.Embed(ctx, domain.EmbedInput{Text: "The sky is blue"})
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, domain.EmbedInput{Text: "Private note"})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, vectorindex.Score(q.Vector, related.Vector), 1e-6)
	assert.InDelta(t, 0.5, vectorindex.Score(q.Vector, unrelated.Vector), 1e-6)
}

func TestHashEmbedder_Image(t *testing.T) {
	e := NewHashEmbedder(32)
	img := []byte("\x89PNG\r\n\x1a\nfake image payload")

	emb, err := e.Embed(context.Background(), domain.EmbedInput{Image: img})
	require.NoError(t, err)
	assert.Equal(t, domain.ModalityImage, emb.Modality)
	assert.InDelta(t, 1.0, vectorindex.Score(emb.Vector, emb.Vector), 1e-6)
}

func TestHashEmbedder_Tokenize(t *testing.T) {
	e := NewHashEmbedder(8)
	assert.Equal(t, []string{"sky", "blue"}, e.Tokenize("The sky is BLUE!"))
	assert.Empty(t, e.Tokenize("a of the"))
}

func TestHashEmbedder_ModalityRule(t *testing.T) {
	e := NewHashEmbedder(8)
	ctx := context.Background()

	_, err := e.Embed(ctx, domain.EmbedInput{})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedModality))

	_, err = e.Embed(ctx, domain.EmbedInput{Text: "x", Image: []byte{1}})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedModality))
}

func TestGuard_RejectsOversizedInput(t *testing.T) {
	g := NewGuard(NewHashEmbedder(8), Limits{MaxTextLength: 5, MaxImageBytes: 3})
	ctx := context.Background()

	_, err := g.Embed(ctx, domain.EmbedInput{Text: "héllo"})
	require.NoError(t, err)

	_, err = g.Embed(ctx, domain.EmbedInput{Text: "héllo!"})
	assert.True(t, errors.Is(err, domain.ErrInputTooLarge))
	assert.True(t, domain.IsInputError(err))

	_, err = g.Embed(ctx, domain.EmbedInput{Image: []byte{1, 2, 3, 4}})
	assert.True(t, errors.Is(err, domain.ErrInputTooLarge))
}

func TestGuard_RateLimitHonoursDeadline(t *testing.T) {
	g := NewGuard(NewHashEmbedder(8), Limits{RequestsPerSecond: 0.001, Burst: 1})

	_, err := g.Embed(context.Background(), domain.EmbedInput{Text: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Embed(ctx, domain.EmbedInput{Text: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, context.DeadlineExceeded))
}

func TestOpenAIEmbedder_TextAndImage(t *testing.T) {
	var sawImage atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []json.RawMessage `json:"input"`
			Model string            `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)
		if strings.Contains(string(req.Input[0]), "data:image/png;base64,") {
			sawImage.Store(true)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAICompatibleEmbedder(Options{Model: "jina-clip-v2", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	emb, err := e.Embed(context.Background(), domain.EmbedInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, emb.Vector)
	assert.Equal(t, "jina-clip-v2", emb.Model)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	emb, err = e.Embed(context.Background(), domain.EmbedInput{Image: png})
	require.NoError(t, err)
	assert.Equal(t, domain.ModalityImage, emb.Modality)
	assert.True(t, sawImage.Load())
}

func TestOpenAIEmbedder_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e, err := NewOpenAICompatibleEmbedder(Options{Model: "m", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), domain.EmbedInput{Text: "hello"})
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
	assert.True(t, domain.IsTransient(err))
}

func TestOpenAIEmbedder_WrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAICompatibleEmbedder(Options{Model: "m", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), domain.EmbedInput{Text: "hello"})
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	g, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dimension, g.Dimension())
	assert.Equal(t, "hash-v1", g.ModelName())

	cfg.Provider = "openai"
	cfg.APIKeyEnv = "MMRAG_TEST_MISSING_KEY"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg.Provider = "word2vec"
	_, err = New(cfg)
	assert.Error(t, err)
}
