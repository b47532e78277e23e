// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
)

type kindError struct {
	err  error
	kind error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.err, e.kind} }

// Mark tags err with one of the sentinel kinds above so RespondError can map
// it. The message and the original error chain are kept.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return &kindError{err: err, kind: kind}
}

// NewError returns a domain sentinel carrying msg that also matches kind.
func NewError(kind error, msg string) error {
	return Mark(errors.New(msg), kind)
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrDuplicate, ErrConflict, ErrValidation, ErrBadRequest} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// RespondError maps generic sentinels to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// RespondValidation reports validator field errors as a 422 problem with a
// field -> tag map.
func RespondValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", "request has invalid fields", map[string]any{
		"errors": fields,
	})
}
