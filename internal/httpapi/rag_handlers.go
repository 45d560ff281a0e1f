package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mmrag/internal/domain"
	"mmrag/internal/usecase"
)

// maxRAGBody bounds RAG API request bodies; base64 inflates images by a
// third, so this admits the default image limit.
const maxRAGBody = 8 << 20

// IngestRequest is the body of POST /v1/ingest. Exactly one of Text and
// Image is set; Image is base64 in JSON.
type IngestRequest struct {
	Text     string          `json:"text" validate:"required_without=Image,excluded_with=Image"`
	Image    []byte          `json:"image"`
	ID       string          `json:"id,omitempty" validate:"omitempty,max=256"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
}

// IngestResponse is returned by POST /v1/ingest.
type IngestResponse struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
}

// QueryRequest is the body of POST /v1/query and POST /v1/retrieve.
type QueryRequest struct {
	Text     string           `json:"text" validate:"required_without=Image,excluded_with=Image"`
	Image    []byte           `json:"image"`
	TopK     int              `json:"top_k,omitempty" validate:"gte=0,lte=100"`
	Modality *domain.Modality `json:"modality,omitempty" validate:"omitempty,oneof=text image"`
}

func (q QueryRequest) toUseCase(identity string) usecase.QueryRequest {
	req := usecase.QueryRequest{Identity: identity, TopK: q.TopK, Filter: q.Modality}
	if len(q.Image) > 0 {
		req.Modality = domain.ModalityImage
		req.Content = q.Image
	} else {
		req.Modality = domain.ModalityText
		req.Content = []byte(q.Text)
	}
	return req
}

// RAGHandler serves ingestion, retrieval and answering.
type RAGHandler struct {
	ingest   *usecase.IngestUseCase
	retrieve *usecase.RetrieveUseCase
	answer   *usecase.AnswerUseCase
	logger   *zap.Logger
}

func NewRAGHandler(ingest *usecase.IngestUseCase, retrieve *usecase.RetrieveUseCase, answer *usecase.AnswerUseCase, logger *zap.Logger) *RAGHandler {
	return &RAGHandler{ingest: ingest, retrieve: retrieve, answer: answer, logger: logger}
}

// Routes mounts the RAG routes on r.
func (h *RAGHandler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", h.HandleIngest)
		r.Post("/query", h.HandleQuery)
		r.Post("/retrieve", h.HandleRetrieve)
		r.Delete("/records/{id}", h.HandleDelete)
	})
}

// HandleIngest handles POST /v1/ingest
func (h *RAGHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, maxRAGBody, &req); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	identity := IdentityFrom(r.Context())
	in := usecase.IngestRequest{Identity: identity, ID: req.ID, Metadata: req.Metadata}
	if len(req.Image) > 0 {
		in.Modality = domain.ModalityImage
		in.Content = req.Image
	} else {
		in.Modality = domain.ModalityText
		in.Content = []byte(req.Text)
	}

	id, err := h.ingest.Ingest(r.Context(), in)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	resp := IngestResponse{ID: id, Namespace: string(domain.NamespaceFor(identity).Kind)}
	if err := WriteJSON(w, http.StatusCreated, resp); err != nil {
		h.logger.Error("failed to write ingest response", zap.Error(err))
	}
}

// HandleQuery handles POST /v1/query
func (h *RAGHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, maxRAGBody, &req); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	answer, err := h.answer.Answer(r.Context(), req.toUseCase(IdentityFrom(r.Context())))
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, answer); err != nil {
		h.logger.Error("failed to write answer", zap.Error(err))
	}
}

// HandleRetrieve handles POST /v1/retrieve
func (h *RAGHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, maxRAGBody, &req); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	rc, err := h.retrieve.Retrieve(r.Context(), req.toUseCase(IdentityFrom(r.Context())))
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, rc); err != nil {
		h.logger.Error("failed to write retrieval context", zap.Error(err))
	}
}

// HandleDelete handles DELETE /v1/records/{id}
func (h *RAGHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil || id == "" {
		HandleError(w, r, domain.NewError(domain.KindInput, "invalid record id", err), h.logger)
		return
	}
	if err := h.ingest.Delete(r.Context(), IdentityFrom(r.Context()), id); err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
