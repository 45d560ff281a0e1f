package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mmrag/internal/domain"
)

// UpsertRequest is the body of PUT /v1/namespaces/{namespace}/records/{id}.
type UpsertRequest struct {
	Embedding  domain.Embedding `json:"embedding"`
	ContentRef string           `json:"content_ref" validate:"required"`
	Metadata   domain.Metadata  `json:"metadata,omitempty"`
}

// QueryRequest is the body of POST /v1/namespaces/{namespace}/query.
type QueryRequest struct {
	Embedding domain.Embedding `json:"embedding"`
	TopK      int              `json:"top_k" validate:"gt=0"`
	Modality  *domain.Modality `json:"modality,omitempty"`
}

// QueryResponse is returned by the query route.
type QueryResponse struct {
	Hits []domain.SearchHit `json:"hits"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RemoteIndex talks to an index service over HTTP. Transport failures and
// 5xx answers surface as BackendUnavailable.
type RemoteIndex struct {
	baseURL string
	client  *http.Client
}

// NewRemoteIndex creates a client for the index service at baseURL.
func NewRemoteIndex(baseURL string, timeout time.Duration) *RemoteIndex {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteIndex{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewRemoteIndexWithClient uses the given HTTP client as-is.
func NewRemoteIndexWithClient(baseURL string, client *http.Client) *RemoteIndex {
	return &RemoteIndex{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (r *RemoteIndex) Upsert(ctx context.Context, ns domain.Namespace, rec domain.Record) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	body := UpsertRequest{Embedding: rec.Embedding, ContentRef: rec.ContentRef, Metadata: rec.Metadata}
	return r.do(ctx, http.MethodPut, recordPath(ns, rec.ID), body, nil)
}

func (r *RemoteIndex) Query(ctx context.Context, ns domain.Namespace, query domain.Embedding, topK int, filter *domain.Modality) ([]domain.SearchHit, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if err := validateQuery(query, topK); err != nil {
		return nil, err
	}

	var resp QueryResponse
	body := QueryRequest{Embedding: query, TopK: topK, Modality: filter}
	if err := r.do(ctx, http.MethodPost, "/v1/namespaces/"+url.PathEscape(ns.Key())+"/query", body, &resp); err != nil {
		return nil, err
	}

	// The service only ever answers for the namespace it was asked about.
	for i := range resp.Hits {
		resp.Hits[i].NamespaceKind = ns.Kind
	}
	return resp.Hits, nil
}

func (r *RemoteIndex) Delete(ctx context.Context, ns domain.Namespace, id string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if id == "" {
		return domain.NewError(domain.KindInput, "record id must not be empty", nil)
	}
	return r.do(ctx, http.MethodDelete, recordPath(ns, id), nil, nil)
}

// Ping checks the service health endpoint.
func (r *RemoteIndex) Ping(ctx context.Context) error {
	return r.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Close releases idle connections.
func (r *RemoteIndex) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func recordPath(ns domain.Namespace, id string) string {
	return "/v1/namespaces/" + url.PathEscape(ns.Key()) + "/records/" + url.PathEscape(id)
}

func (r *RemoteIndex) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.NewError(domain.KindBackendUnavailable, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "failed to read response", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "malformed response", err)
	}
	return nil
}

// decodeError rebuilds a domain error from an index service answer.
func decodeError(status int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	cause := fmt.Errorf("index service returned %d", status)

	if status >= 500 && domain.ErrorKind(eb.Error) != domain.KindDimensionMismatch {
		return domain.NewError(domain.KindBackendUnavailable, msg, cause)
	}
	if eb.Error != "" {
		return domain.NewError(domain.ErrorKind(eb.Error), msg, cause)
	}
	if status == http.StatusNotFound {
		return domain.NewError(domain.KindNotFound, msg, cause)
	}
	return domain.NewError(domain.KindInput, msg, cause)
}
