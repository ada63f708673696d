package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldrun/fieldrun/internal/batch"
	"github.com/fieldrun/fieldrun/internal/config"
	"github.com/fieldrun/fieldrun/internal/progress"
	"github.com/fieldrun/fieldrun/internal/property"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store   property.Store
	batches *batch.Service
	broker  *progress.Broker
	cfg     *config.Config
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(store property.Store, batches *batch.Service, broker *progress.Broker, cfg *config.Config) *Handler {
	return &Handler{store: store, batches: batches, broker: broker, cfg: cfg}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/properties", h.CreateProperty)
	mux.HandleFunc("GET /api/v1/properties", h.ListProperties)
	mux.HandleFunc("GET /api/v1/properties/{id}", h.GetProperty)
	mux.HandleFunc("POST /api/v1/properties/{id}/visit", h.MarkVisited)
	mux.HandleFunc("POST /api/v1/properties/{id}/ready", h.MarkReady)
	mux.HandleFunc("POST /api/v1/properties/{id}/status", h.SetStatus)

	mux.HandleFunc("GET /api/v1/queue/{kind}/claim", h.ClaimNext)
	mux.HandleFunc("POST /api/v1/queue/{id}/complete", h.ResolveComplete)
	mux.HandleFunc("POST /api/v1/queue/{id}/fail", h.ResolveFail)
	mux.HandleFunc("POST /api/v1/queue/{id}/requeue", h.ResolveRequeue)

	mux.HandleFunc("POST /api/v1/batches", h.RunBatch)
	mux.HandleFunc("GET /api/v1/batches/current", h.CurrentBatch)
	mux.HandleFunc("POST /api/v1/batches/current/cancel", h.CancelBatch)
	mux.HandleFunc("GET /api/v1/batches/{id}/events", h.StreamEvents)

	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// CreateProperty handles POST /api/v1/properties and responds 201 with the created property.
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req property.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := &property.Property{
		ID:        uuid.New().String(),
		Address:   req.Address,
		Payload:   req.Payload,
		Status:    property.StatusPendingScrape,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create property")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ListProperties handles GET /api/v1/properties and responds 200 with a paginated list.
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)

	props, total, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list properties")
		return
	}

	// Return an empty array instead of null when there are no properties.
	if props == nil {
		props = []*property.Property{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"properties": props,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetProperty handles GET /api/v1/properties/{id} and responds 200 with the property.
func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get property")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MarkVisited handles POST /api/v1/properties/{id}/visit: READY_FOR_FIELD to VISITED.
func (h *Handler) MarkVisited(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, property.StatusVisited)
}

// MarkReady handles POST /api/v1/properties/{id}/ready: VISITED to READY_FOR_SUBMISSION.
func (h *Handler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, property.StatusReadyForSubmission)
}

// SetStatus handles POST /api/v1/properties/{id}/status. A generic guarded
// move for the transitions without a dedicated endpoint, such as manually
// returning a stuck SCRAPING property to PENDING_SCRAPE.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status property.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status must not be empty")
		return
	}
	h.transition(w, r, req.Status)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, to property.Status) {
	id := r.PathValue("id")
	err := h.store.Transition(r.Context(), id, to)
	switch {
	case errors.Is(err, property.ErrNotFound):
		writeError(w, http.StatusNotFound, "property not found")
	case errors.Is(err, property.ErrBadTransition):
		writeError(w, http.StatusConflict, "illegal status transition")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to update status")
	default:
		p, err := h.store.Get(r.Context(), id)
		if err != nil || p == nil {
			writeError(w, http.StatusInternalServerError, "failed to get property")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ClaimNext handles GET /api/v1/queue/{kind}/claim. An empty queue is a
// normal response, not an error: data is null and success stays true.
func (h *Handler) ClaimNext(w http.ResponseWriter, r *http.Request) {
	kind, err := property.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	workerID := r.URL.Query().Get("worker")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker query parameter is required")
		return
	}

	p, err := h.store.ClaimNext(r.Context(), kind, workerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to claim")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": p})
}

// ResolveComplete handles POST /api/v1/queue/{id}/complete.
func (h *Handler) ResolveComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.resolve(w, r, property.Complete(req.Result))
}

// ResolveFail handles POST /api/v1/queue/{id}/fail.
func (h *Handler) ResolveFail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Error == "" {
		writeError(w, http.StatusBadRequest, "error must not be empty")
		return
	}
	h.resolve(w, r, property.Fail(req.Error))
}

// ResolveRequeue handles POST /api/v1/queue/{id}/requeue.
func (h *Handler) ResolveRequeue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.resolve(w, r, property.Requeue(req.Reason))
}

// resolve ends a claim. Resolving an already-resolved claim is a no-op in the
// store, so retried resolves after a dropped response succeed here too.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, outcome property.Outcome) {
	err := h.store.Resolve(r.Context(), r.PathValue("id"), outcome)
	switch {
	case errors.Is(err, property.ErrNotFound):
		writeError(w, http.StatusNotFound, "property not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to resolve claim")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RunBatch handles POST /api/v1/batches. The run is synchronous: the response
// carries the full per-item results. Progress can be watched concurrently via
// the events stream.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20) // 10 MB max
	var req struct {
		Items             []batch.Item `json:"items"`
		MaxConcurrentTabs int          `json:"maxConcurrentTabs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i := range req.Items {
		if req.Items[i].Address == "" {
			writeError(w, http.StatusBadRequest, "every item needs an address")
			return
		}
	}

	cfg := batch.Config{MaxConcurrentTabs: req.MaxConcurrentTabs}
	if cfg.MaxConcurrentTabs == 0 {
		cfg.MaxConcurrentTabs = h.cfg.MaxConcurrentTabs
	}

	batchID, results, err := h.batches.Run(r.Context(), req.Items, cfg)
	if err != nil {
		var held *batch.LockHeldError
		switch {
		case errors.Is(err, batch.ErrNoItems):
			writeError(w, http.StatusBadRequest, "batch has no items")
		case errors.As(err, &held):
			writeJSON(w, http.StatusConflict, map[string]any{
				"success":        false,
				"error":          "a batch is already running",
				"currentBatchId": held.CurrentBatchID,
			})
		default:
			writeError(w, http.StatusInternalServerError, "batch failed")
		}
		return
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"batchId": batchID,
			"total":   len(results),
			"failed":  failed,
			"results": results,
		},
	})
}

// CurrentBatch handles GET /api/v1/batches/current.
func (h *Handler) CurrentBatch(w http.ResponseWriter, r *http.Request) {
	isProcessing, batchID := h.batches.Status()
	resp := map[string]any{"isProcessing": isProcessing}
	if isProcessing {
		resp["batchId"] = batchID
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelBatch handles POST /api/v1/batches/current/cancel.
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.batches.Cancel()
	if !ok {
		writeError(w, http.StatusConflict, "no batch is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batchId": batchID, "cancelled": true})
}

// Health handles GET /api/v1/health and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	isProcessing, _ := h.batches.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"store":           h.cfg.Store,
		"batchProcessing": isProcessing,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
