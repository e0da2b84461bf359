package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/footfall/internal/domain"
	"github.com/V4T54L/footfall/internal/usecase"
)

// Reporter serves the read side of attribution.
type Reporter interface {
	ListEventsByPath(ctx context.Context, path string, page domain.Page) ([]domain.Event, error)
	ListUniqueHashesByPath(ctx context.Context, path string) ([]string, error)
	ListEventsByResource(ctx context.Context, resourceType, resourceID string, page domain.Page) ([]domain.Event, error)
	ListUniqueHashesByResource(ctx context.Context, resourceType, resourceID string) ([]string, error)
	ListEventsByResourceAction(ctx context.Context, resourceType, resourceID, action string, page domain.Page) ([]domain.Event, error)
	ResourceStats(ctx context.Context, resourceType, resourceID string) (domain.ResourceStats, error)
	PartitionStats(ctx context.Context, key string) (domain.PartitionStats, error)
}

// ResourceEventRecorder accepts explicit resource events.
type ResourceEventRecorder interface {
	RecordExplicitResourceEvent(ctx context.Context, in usecase.ExplicitInput)
}

// AddressResolver extracts the client address from a request.
type AddressResolver interface {
	ResolveHTTP(r *http.Request) string
}

// ReportHandler handles the reporting API.
type ReportHandler struct {
	reporter     Reporter
	recorder     ResourceEventRecorder
	resolver     AddressResolver
	storeRaw     bool
	maxEventSize int64
	logger       *slog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reporter Reporter, recorder ResourceEventRecorder, resolver AddressResolver, storeRaw bool, maxEventSize int64, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reporter:     reporter,
		recorder:     recorder,
		resolver:     resolver,
		storeRaw:     storeRaw,
		maxEventSize: maxEventSize,
		logger:       logger.With("component", "report_handler"),
	}
}

type eventsResponse struct {
	Events []domain.Event `json:"events"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

type uniquesResponse struct {
	Hashes []string `json:"hashes"`
	Count  int      `json:"count"`
}

// HealthCheck is a simple health check endpoint.
func (h *ReportHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListEventsByPath handles GET /v1/events?path=
func (h *ReportHandler) ListEventsByPath(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	events, err := h.reporter.ListEventsByPath(r.Context(), r.URL.Query().Get("path"), page)
	if err != nil {
		h.respondWithError(w, "failed to list events by path", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, eventsResponse{Events: events, Offset: page.Offset, Limit: page.Limit})
}

// ListUniquesByPath handles GET /v1/uniques?path=
func (h *ReportHandler) ListUniquesByPath(w http.ResponseWriter, r *http.Request) {
	hashes, err := h.reporter.ListUniqueHashesByPath(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.respondWithError(w, "failed to list unique hashes by path", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, uniquesResponse{Hashes: hashes, Count: len(hashes)})
}

// ListResourceEvents handles GET /v1/resources/{type}/{id}/events[?action=]
func (h *ReportHandler) ListResourceEvents(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	resourceType, resourceID := chi.URLParam(r, "type"), chi.URLParam(r, "id")

	var (
		events []domain.Event
		err    error
	)
	if action := r.URL.Query().Get("action"); action != "" {
		events, err = h.reporter.ListEventsByResourceAction(r.Context(), resourceType, resourceID, action, page)
	} else {
		events, err = h.reporter.ListEventsByResource(r.Context(), resourceType, resourceID, page)
	}
	if err != nil {
		h.respondWithError(w, "failed to list resource events", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, eventsResponse{Events: events, Offset: page.Offset, Limit: page.Limit})
}

// ListResourceUniques handles GET /v1/resources/{type}/{id}/uniques
func (h *ReportHandler) ListResourceUniques(w http.ResponseWriter, r *http.Request) {
	hashes, err := h.reporter.ListUniqueHashesByResource(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, "failed to list resource unique hashes", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, uniquesResponse{Hashes: hashes, Count: len(hashes)})
}

// GetResourceStats handles GET /v1/resources/{type}/{id}/stats
func (h *ReportHandler) GetResourceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reporter.ResourceStats(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, "failed to compute resource stats", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

// GetPartitionStats handles GET /v1/partitions/{key}/stats
func (h *ReportHandler) GetPartitionStats(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	stats, err := h.reporter.PartitionStats(r.Context(), key)
	if err != nil {
		h.respondWithError(w, "failed to compute partition stats", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

// RecordResourceEvent handles POST /v1/resources/{type}/{id}/events
func (h *ReportHandler) RecordResourceEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	var payload struct {
		Action   string         `json:"action"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resourceType, resourceID := chi.URLParam(r, "type"), chi.URLParam(r, "id")
	if resourceType == "" || resourceID == "" || payload.Action == "" {
		http.Error(w, "resource type, id and action are required", http.StatusBadRequest)
		return
	}

	h.recorder.RecordExplicitResourceEvent(context.WithoutCancel(r.Context()), usecase.ExplicitInput{
		RecordInput: usecase.RecordInput{
			IP:        h.resolver.ResolveHTTP(r),
			StoreRaw:  h.storeRaw,
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       payload.Action,
		Metadata:     payload.Metadata,
	})
	w.WriteHeader(http.StatusAccepted)
}

// page parses offset and limit, answering 400 itself on malformed values.
func (h *ReportHandler) page(w http.ResponseWriter, r *http.Request) (domain.Page, bool) {
	var page domain.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"offset": &page.Offset, "limit": &page.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid "+name, http.StatusBadRequest)
			return domain.Page{}, false
		}
		*dst = n
	}
	return page.Clamp(), true
}

func (h *ReportHandler) respondWithError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, domain.ErrInvalidQuery) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *ReportHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
