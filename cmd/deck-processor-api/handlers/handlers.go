// Package handlers provides HTTP handlers for the deck processor API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processor"
)

// Service is the part of processor.Service the handlers use.
type Service interface {
	StageUpload(jobID, filename string, r io.Reader) (string, error)
	Submit(ctx context.Context, req processor.SubmitRequest) (domain.JobStatus, error)
	Status(ctx context.Context, jobID string) (domain.JobStatus, error)
	Retry(ctx context.Context, jobID string) (domain.JobStatus, error)
	Result(ctx context.Context, sessionID string) (*domain.ResultDocument, error)
	Metrics() processor.Metrics
	ClearCache(ctx context.Context, key string) bool
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, ErrorResponse{Error: message, Detail: detail})
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, logger *observability.Logger, r *http.Request, message string, err error) {
	status, body := serviceError(logger, r, message, err)
	writeJSON(w, status, body)
}

// serviceError builds the status and body for a service error. Internal
// errors are logged and their detail is withheld from the client.
func serviceError(logger *observability.Logger, r *http.Request, message string, err error) (int, ErrorResponse) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case domain.IsType(err, domain.ErrorTypeValidation):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(message)
		return status, ErrorResponse{Error: message}
	}
	return status, ErrorResponse{Error: message, Detail: domain.UserMessage(err)}
}
