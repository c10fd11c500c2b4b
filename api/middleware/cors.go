package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/enrollpay-backend/api/responses"
)

// CORS admits the course storefront origins with credentials so the session
// cookie pair is sent. An empty list allows only the local dev frontend.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			IdempotencyKeyHeader,
			responses.RequestIDHeader,
		},
		ExposedHeaders:   []string{responses.RequestIDHeader, ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}
