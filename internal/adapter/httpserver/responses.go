// Package httpserver contains HTTP handlers and middleware.
//
// Every response uses the platform envelope: a success flag, a message or
// data payload, and for asynchronous submissions the job id plus the URL to
// poll. Domain errors are translated to HTTP status codes in one place.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexatlas/lexatlas/internal/domain"
)

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// acceptedEnvelope is the 202 response of asynchronous submissions.
type acceptedEnvelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

// dataEnvelope wraps synchronous payloads. FromCache marks responses answered
// from the result cache without dispatching a job.
type dataEnvelope struct {
	Success   bool `json:"success"`
	FromCache bool `json:"fromCache,omitempty"`
	Data      any  `json:"data"`
}

type messageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the HTTP taxonomy. Model warm-up is the
// one retryable server error and carries a Retry-After hint.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusUnauthorized
		codeStr = "AUTHENTICATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrModelLoading):
		code = http.StatusServiceUnavailable
		codeStr = "MODEL_LOADING"
		w.Header().Set("Retry-After", "30")
	case errors.Is(err, domain.ErrPrediction):
		codeStr = "PREDICTION_FAILED"
	case errors.Is(err, domain.ErrDataProcessing):
		codeStr = "DATA_PROCESSING_FAILED"
	case errors.Is(err, domain.ErrAIProcessing):
		codeStr = "AI_PROCESSING_FAILED"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
