package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/footfall/internal/usecase"
)

// AddressResolver extracts the client address from a request.
type AddressResolver interface {
	ResolveHTTP(r *http.Request) string
}

// RequestRecorder records one attribution event per request.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, in usecase.RecordInput)
}

// Attribution resolves the client address before the request is served and
// records the request once the wrapped handler is done, including when it
// panics (a reverse proxy aborts with http.ErrAbortHandler). Recording never
// changes the response.
func Attribution(resolver AddressResolver, recorder RequestRecorder, storeRaw bool, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "attribution_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.ResolveHTTP(r)
			if ip == "" {
				logger.Debug("no client address resolved", "path", r.URL.Path)
			}
			in := usecase.RecordInput{
				IP:        ip,
				StoreRaw:  storeRaw,
				UserAgent: r.UserAgent(),
				Method:    r.Method,
				Path:      r.URL.Path,
			}
			defer recorder.RecordRequest(context.WithoutCancel(r.Context()), in)

			next.ServeHTTP(w, r)
		})
	}
}
