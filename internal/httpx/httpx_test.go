package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
}

func TestEndpointOptionsReturnsNoContent(t *testing.T) {
	h := Endpoint(EndpointOptions{Headers: []string{"Content-Type", "x-api-key"}}, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/add-user", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, x-api-key" {
		t.Fatalf("allow headers = %q", got)
	}
}

func TestEndpointPreflight(t *testing.T) {
	h := Endpoint(EndpointOptions{}, okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/request-download", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Values("Access-Control-Allow-Origin"); len(got) != 1 || got[0] != "*" {
		t.Fatalf("allow origin = %q, want a single *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != http.MethodPost {
		t.Fatalf("allow methods = %q", got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("preflight body = %q", rec.Body.String())
	}
}

func TestEndpointCrossOriginPostHasSingleCORSHeader(t *testing.T) {
	h := Endpoint(EndpointOptions{}, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/request-download", strings.NewReader("{}"))
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Values("Access-Control-Allow-Origin"); len(got) != 1 || got[0] != "*" {
		t.Fatalf("allow origin = %q, want a single *", got)
	}
}

func TestClientIPIgnoresPeerPort(t *testing.T) {
	first := httptest.NewRequest(http.MethodPost, "/", nil)
	first.RemoteAddr = "203.0.113.7:50001"
	second := httptest.NewRequest(http.MethodPost, "/", nil)
	second.RemoteAddr = "203.0.113.7:50002"

	if a, b := ClientIP(first), ClientIP(second); a != "203.0.113.7" || a != b {
		t.Fatalf("keys = %q, %q", a, b)
	}

	v6 := httptest.NewRequest(http.MethodPost, "/", nil)
	v6.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(v6); got != "2001:db8::1" {
		t.Fatalf("ipv6 = %q", got)
	}

	forwarded := httptest.NewRequest(http.MethodPost, "/", nil)
	forwarded.RemoteAddr = "10.0.0.1:1234"
	forwarded.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	if got := ClientIP(forwarded); got != "198.51.100.2" {
		t.Fatalf("forwarded = %q", got)
	}
}

func TestEndpointRejectsOtherMethods(t *testing.T) {
	h := Endpoint(EndpointOptions{}, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/request-download", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestEndpointPassesPost(t *testing.T) {
	h := Endpoint(EndpointOptions{}, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/request-download", strings.NewReader("{}")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey("x-api-key", "secret", okHandler())

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "missing", key: "", status: http.StatusUnauthorized},
		{name: "wrong", key: "nope", status: http.StatusUnauthorized},
		{name: "valid", key: "secret", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequireAPIKeyEmptyConfiguredKeyRejects(t *testing.T) {
	h := RequireAPIKey("x-api-key", "", okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWriteValidationListsFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidation(rec, Missing("email", "productId"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body struct {
		Error         string   `json:"error"`
		MissingFields []string `json:"missingFields"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Missing required fields" || len(body.MissingFields) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWriteTooManyRequestsRetryAfterFloor(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTooManyRequests(rec, 100*time.Millisecond, "slow down")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","extra":1}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &dst, true); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","extra":1}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &dst, false); err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if dst.Email != "a@b.com" {
		t.Fatalf("email = %q", dst.Email)
	}
}
