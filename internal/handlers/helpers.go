package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
)

const defaultMaxBodySize = 16 << 10

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
	errInvalidJSON  = errors.New("invalid JSON body")
)

// decodeJSONBody unmarshals at most limit bytes of the body into dst. Blank bodies are rejected.
func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	if r.Body == nil {
		return errEmptyBody
	}
	// one extra byte tells an exact-limit body apart from an oversized one
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	switch {
	case err != nil:
		return err
	case int64(len(body)) > limit:
		return errBodyTooLarge
	case len(bytes.TrimSpace(body)) == 0:
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	apiErr := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	switch {
	case errors.Is(err, errBodyTooLarge):
		apiErr = httpx.NewError("payload_too_large", errBodyTooLarge.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, errInvalidJSON):
		apiErr.Message = errInvalidJSON.Error()
	}
	httpx.WriteError(ctx, w, apiErr)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireIdentity answers 401 when no signed-in caller is on the context.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return identity, true
	}
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	return nil, false
}

// parseFilterValues accepts both repeated params and comma lists (?status=a&status=b,c),
// lower-cased and de-duplicated in first-seen order.
func parseFilterValues(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseOptionalTime reads an RFC3339 query value named name. Blank means unset.
func parseOptionalTime(raw, name string) (*time.Time, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid RFC3339 timestamp", name)
	}
	ts = ts.UTC()
	return &ts, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// money is always rendered with two decimals, "12.50".
func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatMoneyPtr(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	s := formatMoney(*value)
	return &s
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

// optionalTrimmed trims value and drops it when nothing is left.
func optionalTrimmed(value *string) *string {
	if value == nil {
		return nil
	}
	if v := strings.TrimSpace(*value); v != "" {
		return &v
	}
	return nil
}
