package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const APIKeyHeader = "X-API-Key"

// APIKeyAuth returns a middleware that admits requests carrying one of keys in
// the X-API-Key header. With no keys configured every request is rejected.
func APIKeyAuth(keys []string, logger *slog.Logger) func(http.Handler) http.Handler {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}
	if len(valid) == 0 {
		logger.Warn("no reporting API keys configured, reporting endpoints are disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("API key missing from request", "path", r.URL.Path)
				http.Error(w, "Unauthorized: API key required", http.StatusUnauthorized)
				return
			}

			if !matchesAny(valid, []byte(apiKey)) {
				logger.Warn("invalid API key provided", "path", r.URL.Path)
				http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesAny compares against every key so timing does not reveal which one matched.
func matchesAny(valid [][]byte, candidate []byte) bool {
	found := 0
	for _, k := range valid {
		found |= subtle.ConstantTimeCompare(k, candidate)
	}
	return found == 1
}
