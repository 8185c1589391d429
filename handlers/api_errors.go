package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/workers"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

const (
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeUnauthorized      = "unauthorized"
	CodeStrategyMismatch  = "strategy_mismatch"
	CodeQueueFull         = "queue_full"
	CodeEngineUnavailable = "engine_unavailable"
	CodeInternal          = "internal_error"
)

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeError maps the engine's sentinel errors onto HTTP statuses and logs
// anything unexpected.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrObjectNotFound), errors.Is(err, database.ErrImageNotFound), errors.Is(err, workers.ErrTaskNotFound):
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, database.ErrStrategyMismatch):
		WriteAPIError(w, http.StatusConflict, CodeStrategyMismatch, err.Error())
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrStopped):
		WriteAPIError(w, http.StatusServiceUnavailable, CodeQueueFull, err.Error())
	default:
		log.Printf("handlers: %s: %v", op, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, op+" failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encoding response: %v", err)
	}
}
