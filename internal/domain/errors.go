package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorises failures so callers can tell "nothing relevant"
// apart from "service unavailable".
type ErrorKind string

const (
	KindInput                ErrorKind = "input"
	KindUnsupportedModality  ErrorKind = "unsupported_modality"
	KindInputTooLarge        ErrorKind = "input_too_large"
	KindModelUnavailable     ErrorKind = "model_unavailable"
	KindBackendUnavailable   ErrorKind = "backend_unavailable"
	KindStoreUnavailable     ErrorKind = "store_unavailable"
	KindNotFound             ErrorKind = "not_found"
	KindDimensionMismatch    ErrorKind = "dimension_mismatch"
	KindQueryEmbeddingFailed ErrorKind = "query_embedding_failed"
	KindNoSearchResults      ErrorKind = "no_search_results"
	KindInsufficientContext  ErrorKind = "insufficient_context"
	KindGenerationFailed     ErrorKind = "generation_failed"
	KindIngestionPartial     ErrorKind = "ingestion_partial"
)

// Error is a structured error carrying a Kind. Two *Error values match
// under errors.Is when their kinds are equal.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrInput                = NewError(KindInput, "invalid input", nil)
	ErrUnsupportedModality  = NewError(KindUnsupportedModality, "unsupported modality", nil)
	ErrInputTooLarge        = NewError(KindInputTooLarge, "input too large", nil)
	ErrModelUnavailable     = NewError(KindModelUnavailable, "embedding model unavailable", nil)
	ErrBackendUnavailable   = NewError(KindBackendUnavailable, "index backend unavailable", nil)
	ErrStoreUnavailable     = NewError(KindStoreUnavailable, "object store unavailable", nil)
	ErrNotFound             = NewError(KindNotFound, "not found", nil)
	ErrDimensionMismatch    = NewError(KindDimensionMismatch, "dimension mismatch", nil)
	ErrQueryEmbeddingFailed = NewError(KindQueryEmbeddingFailed, "query embedding failed", nil)
	ErrNoSearchResults      = NewError(KindNoSearchResults, "no search results", nil)
	ErrInsufficientContext  = NewError(KindInsufficientContext, "insufficient context", nil)
	ErrGenerationFailed     = NewError(KindGenerationFailed, "generation failed", nil)
	ErrIngestionPartial     = NewError(KindIngestionPartial, "ingestion partially applied", nil)
)

// KindOf returns the kind of the outermost *Error in err's chain, or ""
// when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInputError covers every caller-side input failure; these are never
// retried.
func IsInputError(err error) bool {
	switch KindOf(err) {
	case KindInput, KindUnsupportedModality, KindInputTooLarge:
		return true
	}
	return false
}

// IsTransient reports failures where retrying the whole request may help.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindModelUnavailable, KindBackendUnavailable, KindStoreUnavailable:
		return true
	}
	return false
}

func DimensionMismatch(expected, actual int) *Error {
	return NewError(KindDimensionMismatch, fmt.Sprintf("expected dimension %d, got %d", expected, actual), nil)
}
