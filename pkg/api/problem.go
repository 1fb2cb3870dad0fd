// Package api exposes the REST surface: scope and privilege listing,
// self-approval, multi-party request and approval, and the operational
// endpoints. Error responses use RFC 7807 problem details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/auth"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request for log correlation.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// statusOf maps the application error taxonomy onto HTTP.
func statusOf(err error) (status int, title string) {
	switch apperr.KindOf(err) {
	case apperr.InvalidArgument:
		return http.StatusBadRequest, "Bad Request"
	case apperr.Unauthenticated:
		return http.StatusUnauthorized, "Unauthorized"
	case apperr.AccessDenied:
		return http.StatusForbidden, "Forbidden"
	case apperr.NotFound:
		return http.StatusNotFound, "Not Found"
	case apperr.AlreadyExists:
		return http.StatusConflict, "Conflict"
	case apperr.QuotaExceeded:
		return http.StatusTooManyRequests, "Too Many Requests"
	case apperr.Unavailable:
		return http.StatusServiceUnavailable, "Service Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// WriteProblem renders err as a problem response. Internal errors are
// logged with their cause; the client only ever sees the sanitized message.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "internal server error",
			"error", err,
			"path", r.URL.Path,
			"request_id", auth.GetRequestID(r.Context()),
		)
	}

	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://github.com/Mindburn-Labs/jitaccess/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   apperr.Message(err),
		Instance: r.URL.Path,
		TraceID:  auth.GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
