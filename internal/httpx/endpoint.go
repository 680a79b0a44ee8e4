package httpx

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

type EndpointOptions struct {
	Methods []string
	Headers []string
}

// Endpoint wraps h with the public CORS policy and a method allow-list. OPTIONS
// always answers 204.
func Endpoint(opts EndpointOptions, h http.Handler) http.Handler {
	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	headers := opts.Headers
	if len(headers) == 0 {
		headers = []string{"Content-Type"}
	}

	advertised := append(slices.Clone(methods), http.MethodOptions)
	allowMethods := strings.Join(advertised, ", ")
	allowHeaders := strings.Join(headers, ", ")

	guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !slices.Contains(methods, r.Method) {
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.ServeHTTP(w, r)
	})

	// Browser requests carry Origin and get their headers from cors; preflights
	// pass through so guarded answers them with 204.
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     advertised,
		AllowedHeaders:     headers,
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	})(guarded)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		}
		withCORS.ServeHTTP(w, r)
	})
}
