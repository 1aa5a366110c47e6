// Package httpx writes JSON and RFC7807 problem responses for the ops endpoints.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const problemTypePrefix = "urn:backoffice:problem:"

// ProblemDetail is the application/problem+json body.
type ProblemDetail struct {
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorClass struct {
	target error
	slug   string
	status int
}

// Checked in order; the first matching class wins.
var errorClasses = []errorClass{
	{shared.ErrNotFound, "not-found", http.StatusNotFound},
	{shared.ErrValidation, "validation", http.StatusBadRequest},
	{shared.ErrInsufficientStock, "insufficient-stock", http.StatusUnprocessableEntity},
	{shared.ErrUnsupportedTransition, "unsupported-transition", http.StatusUnprocessableEntity},
	{shared.ErrDuplicateDocument, "duplicate-document", http.StatusConflict},
	{shared.ErrConcurrencyConflict, "concurrency-conflict", http.StatusConflict},
	{shared.ErrPersistence, "persistence", http.StatusServiceUnavailable},
}

func classify(err error) (string, int) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.slug, c.status
		}
	}
	return "internal", http.StatusInternalServerError
}

// StatusFor maps engine error classes to HTTP status codes.
func StatusFor(err error) int {
	_, status := classify(err)
	return status
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, "application/json", status, data)
}

// Problem writes a bare problem body.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, "application/problem+json", status, ProblemDetail{Title: title, Status: status, Detail: detail})
}

// RespondError writes err as problem details. Server-side failures hide the message.
func RespondError(w http.ResponseWriter, err error) {
	slug, status := classify(err)
	body := ProblemDetail{
		Type:      problemTypePrefix + slug,
		Title:     http.StatusText(status),
		Status:    status,
		Retryable: shared.IsRetryable(err),
	}
	if shared.IsClientError(err) || body.Retryable {
		body.Detail = err.Error()
	}
	write(w, "application/problem+json", status, body)
}

func write(w http.ResponseWriter, contentType string, status int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
