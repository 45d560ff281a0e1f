package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mmrag/internal/port"
)

// RouterOptions configures the RAG API router.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	JWTSecret      string
}

// NewRouter builds the RAG API.
func NewRouter(h *RAGHandler, opts RouterOptions, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdentityHeader},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(propagateRequestID)

	r.Get("/healthz", healthz)

	r.Group(func(r chi.Router) {
		r.Use(NewIdentityMiddleware(opts.JWTSecret, logger).Handler)
		h.Routes(r)
	})
	return r
}

// NewIndexRouter builds the index service API.
func NewIndexRouter(index port.VectorIndex, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(propagateRequestID)

	r.Get("/healthz", healthz)
	NewIndexHandler(index, logger).Routes(r)
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
