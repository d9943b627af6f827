package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/assetledger-backend/api/responses"
)

var defaultCORSOrigins = []string{"http://localhost:3000"}

// CORS applies the allowed origin policy. An empty list falls back to the
// local dev origin. A "*" entry opens the API to any origin and turns
// credentials off, since browsers reject that combination.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	wildcard := slices.Contains(origins, "*")

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "Range",
			idempotencyHeader, sessionHeader,
		},
		ExposedHeaders: []string{
			responses.RequestIDHeader, replayedHeader,
			"Retry-After", "Content-Disposition", "Content-Range",
		},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}).Handler
}
