package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"access-serverless/internal/download"
	"access-serverless/internal/entitlement"
	"access-serverless/internal/httpx"
	"access-serverless/internal/maintenance"
	"access-serverless/internal/paycode"
	"access-serverless/internal/product"
	"access-serverless/internal/staff"
)

const apiKeyHeader = "x-api-key"

type routeDeps struct {
	apiKey    string
	jwtSecret string

	download    *download.Handler
	entitlement *entitlement.Handler
	payCodes    *paycode.Handler
	staff       *staff.Handler
	products    *product.Handler
	cleanup     *maintenance.CleanupHandler
	health      http.HandlerFunc
}

func routes(d routeDeps) *http.ServeMux {
	post := httpx.EndpointOptions{Methods: []string{http.MethodPost}}
	keyed := httpx.EndpointOptions{Methods: []string{http.MethodPost}, Headers: []string{"Content-Type", apiKeyHeader}}
	bearer := httpx.EndpointOptions{Methods: []string{http.MethodPost}, Headers: []string{"Content-Type", "Authorization"}}

	public := func(opts httpx.EndpointOptions, h http.HandlerFunc) http.Handler {
		return httpx.Endpoint(opts, h)
	}
	withKey := func(h http.HandlerFunc) http.Handler {
		return httpx.Endpoint(keyed, httpx.RequireAPIKey(apiKeyHeader, d.apiKey, h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return staff.Middleware(d.jwtSecret, h, staff.RoleAdmin)
	}

	mux := http.NewServeMux()

	mux.Handle("/request-download", public(post, d.download.RequestDownload))
	mux.Handle("/confirm-download", public(post, d.download.ConfirmDownload))
	mux.Handle("/add-user", withKey(d.entitlement.AddUser))

	mux.Handle("/check-pay-code", public(post, d.payCodes.CheckPayCode))
	mux.Handle("/create-pay-code", public(post, d.payCodes.CreatePayCode))
	mux.Handle("/verify-pay", httpx.Endpoint(bearer, httpx.RequireAPIKey("Authorization", "Apikey "+d.apiKey, http.HandlerFunc(d.payCodes.VerifyPay))))
	mux.Handle("/get-paycode-by-collaborators", public(post, d.payCodes.GetPayCodeByCollaborators))

	mux.Handle("/create-internal-user", withKey(d.staff.CreateInternalUser))
	mux.Handle("/auth/login", public(post, d.staff.Login))

	mux.HandleFunc("GET /products", d.products.ListProducts)
	mux.Handle("POST /products", admin(d.products.CreateProduct))
	mux.Handle("PUT /products/{id}", admin(d.products.UpdateProduct))
	mux.Handle("DELETE /products/{id}", admin(d.products.DeleteProduct))

	mux.HandleFunc("/internal/maintenance/cleanup", d.cleanup.Handle)
	mux.HandleFunc("GET /health", d.health)

	return mux
}

// healthHandler pings every dependency and reports 503 with the failing names
// when any of them does not answer within two seconds.
func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var failing []string
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if len(failing) > 0 {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["failing"] = failing
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
