package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel taxonomy. Services return these (wrapped); handlers map them to
// HTTP statuses with Status().
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failed")
)

// PipelineBuildError reports a failed pipeline construction for a
// (tenant, model) key. Unknown model names and unreachable external services
// both surface through it.
type PipelineBuildError struct {
	Model  string
	Reason error
}

func (e *PipelineBuildError) Error() string {
	if e == nil {
		return "pipeline build failed"
	}
	if e.Reason != nil {
		return fmt.Sprintf("pipeline build failed for model %q: %v", e.Model, e.Reason)
	}
	return fmt.Sprintf("pipeline build failed for model %q", e.Model)
}

func (e *PipelineBuildError) Unwrap() error { return e.Reason }

func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		var be *PipelineBuildError
		if errors.As(err, &be) {
			return "pipeline_build_failed"
		}
		return "internal"
	}
}
