package api

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/footfall/internal/adapter/api/handler"
	"github.com/V4T54L/footfall/internal/adapter/api/middleware"
)

// NewRouter builds the service router. Reporting routes live under /v1 behind
// API key auth; every other request is passed to tracked, which is expected to
// be wrapped in the attribution middleware.
func NewRouter(logger *slog.Logger, reportHandler *handler.ReportHandler, apiKeys []string, tracked http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	r.Get("/health", reportHandler.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKeys, logger))

		r.Get("/events", reportHandler.ListEventsByPath)
		r.Get("/uniques", reportHandler.ListUniquesByPath)
		r.Route("/resources/{type}/{id}", func(r chi.Router) {
			r.Get("/events", reportHandler.ListResourceEvents)
			r.Post("/events", reportHandler.RecordResourceEvent)
			r.Get("/uniques", reportHandler.ListResourceUniques)
			r.Get("/stats", reportHandler.GetResourceStats)
		})
		r.Get("/partitions/{key}/stats", reportHandler.GetPartitionStats)
	})

	r.NotFound(tracked.ServeHTTP)
	r.MethodNotAllowed(tracked.ServeHTTP)
	return r
}

// NewTrackedHandler returns the handler attributed requests are served by: a
// reverse proxy to upstream, or a 204 beacon when upstream is empty.
func NewTrackedHandler(upstream string, logger *slog.Logger) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
	return proxy, nil
}
