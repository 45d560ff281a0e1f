package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"mmrag/internal/domain"
)

// validate is the singleton validator instance
var validate = validator.New()

// ValidationError wraps validation errors with structured details
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newValidationError(validationErrors)
		}
		return err
	}
	return nil
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := err.Field()
		switch err.Tag() {
		case "required", "required_without":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "excluded_with":
			fields[field] = fmt.Sprintf("%s cannot be combined with %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte", "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "lte", "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}
	return &ValidationError{Message: "Validation failed", Fields: fields}
}

// decodeJSON reads a JSON body of at most limit bytes into dst and
// validates it.
func decodeJSON(r *http.Request, limit int64, dst any) error {
	body := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.NewError(domain.KindInput, "failed to read request body", err)
	}
	if int64(len(data)) > limit {
		return domain.NewError(domain.KindInputTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit), nil)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewError(domain.KindInput, "invalid JSON body", err)
	}
	return ValidateStruct(dst)
}
