package httpapi

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mmrag/internal/adapter/vectorindex"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// maxIndexBody bounds index service request bodies; a 4096-dim vector
// encodes well under this.
const maxIndexBody = 4 << 20

// IndexHandler serves a VectorIndex over HTTP for RemoteIndex clients.
type IndexHandler struct {
	index  port.VectorIndex
	logger *zap.Logger
}

// NewIndexHandler creates a new IndexHandler
func NewIndexHandler(index port.VectorIndex, logger *zap.Logger) *IndexHandler {
	return &IndexHandler{index: index, logger: logger}
}

// Routes mounts the index service routes on r.
func (h *IndexHandler) Routes(r chi.Router) {
	r.Route("/v1/namespaces/{namespace}", func(r chi.Router) {
		r.Put("/records/{id}", h.HandleUpsert)
		r.Delete("/records/{id}", h.HandleDelete)
		r.Post("/query", h.HandleQuery)
	})
}

// HandleUpsert handles PUT /v1/namespaces/{namespace}/records/{id}
func (h *IndexHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ns, id, err := h.target(r)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	var req vectorindex.UpsertRequest
	if err := decodeJSON(r, maxIndexBody, &req); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	rec := domain.Record{ID: id, Embedding: req.Embedding, ContentRef: req.ContentRef, Metadata: req.Metadata}
	if err := h.index.Upsert(r.Context(), ns, rec); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	h.logger.Debug("record upserted",
		zap.String("request_id", requestIDFrom(r)),
		zap.String("namespace", ns.Key()),
		zap.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// HandleQuery handles POST /v1/namespaces/{namespace}/query
func (h *IndexHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	var req vectorindex.QueryRequest
	if err := decodeJSON(r, maxIndexBody, &req); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	hits, err := h.index.Query(r.Context(), ns, req.Embedding, req.TopK, req.Modality)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}

	if err := WriteJSON(w, http.StatusOK, vectorindex.QueryResponse{Hits: hits}); err != nil {
		h.logger.Error("failed to write query response", zap.Error(err))
	}
}

// HandleDelete handles DELETE /v1/namespaces/{namespace}/records/{id}
func (h *IndexHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ns, id, err := h.target(r)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if err := h.index.Delete(r.Context(), ns, id); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IndexHandler) target(r *http.Request) (domain.Namespace, string, error) {
	ns, err := namespaceParam(r)
	if err != nil {
		return domain.Namespace{}, "", err
	}
	id, err := pathParam(r, "id")
	if err != nil || id == "" {
		return domain.Namespace{}, "", domain.NewError(domain.KindInput, "invalid record id", err)
	}
	return ns, id, nil
}

func namespaceParam(r *http.Request) (domain.Namespace, error) {
	raw, err := pathParam(r, "namespace")
	if err != nil {
		return domain.Namespace{}, domain.NewError(domain.KindInput, "invalid namespace", err)
	}
	return domain.ParseNamespace(raw)
}

// pathParam returns the decoded URL parameter key. chi matches against
// RawPath when the request has one, leaving parameters escaped; otherwise
// it matches the already decoded Path and the value must not be decoded
// again.
func pathParam(r *http.Request, key string) (string, error) {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}
