package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// DefaultOrigins lets extension pages and any web page reach the local
// daemon.
var DefaultOrigins = []string{"chrome-extension://*", "moz-extension://*", "https://*", "http://*"}

// CORS returns a configured CORS middleware.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
