package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/requestctx"
)

// Error is the API error envelope. It renders as
//
//	{"error": "<code>", "message": "...", "status": 409, "request_id": "...", "trace_id": "...", ...details}
//
// Detail keys are flattened into the top-level object and never override the reserved keys.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, 80),
		Message: singleLine(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithDetails returns a copy of e with details merged in.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

func (e Error) payload(ctx context.Context) map[string]any {
	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		if _, reserved := reservedKeys[k]; !reserved {
			body[k] = v
		}
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := middleware.GetReqID(ctx); id != "" {
		body["request_id"] = singleLine(id, 80)
	}
	if id := requestctx.TraceID(ctx); id != "" {
		body["trace_id"] = id
	}
	return body
}

// WriteError writes err as JSON with its status code.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.payload(ctx))
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
