package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Error codes returned by the local API
const (
	ErrCodeNotActivated = "NOT_ACTIVATED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrResponse implements the render.Renderer interface for local API errors
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	AppCode        string `json:"code,omitempty"`
	ErrorText      string `json:"error,omitempty"`
}

// Render implements the render.Renderer interface
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// ErrRateLimited is returned when the local API rate limit is exceeded
var ErrRateLimited = &ErrResponse{
	HTTPStatusCode: http.StatusTooManyRequests,
	StatusText:     "Too many requests",
	AppCode:        ErrCodeRateLimited,
	ErrorText:      "Too many requests to the local API. Please slow down",
}

// ErrNotActivated is returned when no license record exists yet
var ErrNotActivated = &ErrResponse{
	HTTPStatusCode: http.StatusPreconditionRequired,
	StatusText:     "License not activated",
	AppCode:        ErrCodeNotActivated,
	ErrorText:      "No license has been activated on this box",
}

// Renderer maps an internal error to a local API error response
func Renderer(err error) *ErrResponse {
	if errors.Is(err, ErrNotFound) {
		return ErrNotActivated
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "Internal server error",
		AppCode:        ErrCodeInternal,
		ErrorText:      err.Error(),
	}
}
