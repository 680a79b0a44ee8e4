package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"access-serverless/internal/download"
	"access-serverless/internal/entitlement"
	"access-serverless/internal/maintenance"
	"access-serverless/internal/observability"
	"access-serverless/internal/paycode"
	"access-serverless/internal/product"
	"access-serverless/internal/staff"
)

// newTestMux wires handlers without services; every request below is
// rejected before a service would be reached.
func newTestMux() *http.ServeMux {
	logger := observability.NewNopLogger()
	return routes(routeDeps{
		apiKey:      "key",
		jwtSecret:   "secret",
		download:    download.NewHandler(nil, logger),
		entitlement: entitlement.NewHandler(nil, logger),
		payCodes:    paycode.NewHandler(nil, nil, nil, paycode.HandlerConfig{}, logger),
		staff:       staff.NewHandler(nil, logger),
		products:    product.NewHandler(nil, logger),
		cleanup:     maintenance.NewCleanupHandler(logger, "", 0),
		health:      healthHandler(nil),
	})
}

func TestRoutesGuardEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		header map[string]string
		body   string
		want   int
	}{
		{"preflight", http.MethodOptions, "/request-download", nil, "", http.StatusNoContent},
		{"wrong method", http.MethodGet, "/confirm-download", nil, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "/request-download", nil, "{", http.StatusBadRequest},
		{"add-user without key", http.MethodPost, "/add-user", nil, `{}`, http.StatusUnauthorized},
		{"internal user wrong key", http.MethodPost, "/create-internal-user", map[string]string{"x-api-key": "nope"}, `{}`, http.StatusUnauthorized},
		{"verify-pay bare key", http.MethodPost, "/verify-pay", map[string]string{"Authorization": "key"}, `{}`, http.StatusUnauthorized},
		{"product write without token", http.MethodPost, "/products", nil, `{}`, http.StatusUnauthorized},
		{"product delete without token", http.MethodDelete, "/products/ebook", nil, "", http.StatusUnauthorized},
		{"cleanup disabled", http.MethodPost, "/internal/maintenance/cleanup", nil, "", http.StatusNotFound},
	}

	mux := newTestMux()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRoutesAllowCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/add-user", nil)
	req.Header.Set("Origin", "https://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", apiKeyHeader)
	rec := httptest.NewRecorder()
	newTestMux().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), apiKeyHeader) {
		t.Fatalf("allow headers = %q", got)
	}
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name    string
		checks  map[string]func(context.Context) error
		want    int
		failing []any
	}{
		{"all up", map[string]func(context.Context) error{"database": ok, "redis": ok}, http.StatusOK, nil},
		{"redis down", map[string]func(context.Context) error{"database": ok, "redis": down}, http.StatusServiceUnavailable, []any{"redis"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if tt.failing == nil {
				if body["status"] != "ok" {
					t.Fatalf("body = %v", body)
				}
				return
			}
			failing, _ := body["failing"].([]any)
			if body["status"] != "degraded" || len(failing) != 1 || failing[0] != tt.failing[0] {
				t.Fatalf("body = %v", body)
			}
		})
	}
}
