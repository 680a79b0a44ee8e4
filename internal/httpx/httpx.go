// Package httpx holds the request/response plumbing shared by every endpoint:
// JSON encoding, the per-endpoint CORS and method guard, API-key checks and
// the translation of validation failures into 400 responses.
package httpx

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"access-serverless/internal/observability"
)

const MaxJSONBodyBytes = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteValidation renders err as a 400. Non-validation errors fall back to a generic message.
func WriteValidation(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	body := map[string]any{"error": vErr.Message}
	if len(vErr.Fields) > 0 {
		body[vErr.fieldsKey()] = vErr.Fields
	}
	for k, v := range vErr.Details {
		body[k] = v
	}
	WriteJSON(w, http.StatusBadRequest, body)
}

// WriteTooManyRequests sets Retry-After (at least one second) and renders a 429.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter time.Duration, message string) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteError(w, http.StatusTooManyRequests, message)
}

// WriteInternal logs err with its operation, reports it and answers with a generic 500.
func WriteInternal(w http.ResponseWriter, logger *observability.Logger, operation string, err error) {
	logger.Error(operation+"_failed", map[string]any{"error": err})
	observability.CaptureError(operation, err)
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}

// DecodeJSON reads a bounded JSON body into dst. Unknown fields are rejected when strict is set.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		return &ValidationError{Message: "invalid json body"}
	}
	return nil
}

func ClientIP(r *http.Request) string {
	return observability.ClientIP(r)
}

// RequireAPIKey rejects requests whose header does not carry exactly want.
func RequireAPIKey(header, want string, next http.Handler) http.Handler {
	expected := []byte(want)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := []byte(strings.TrimSpace(r.Header.Get(header)))
		if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			WriteError(w, http.StatusUnauthorized, "Unauthorized: Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
