package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/autopilot"
	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/lock"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	AddReadyItem(ctx context.Context, item domain.ReadyItem) error
	ListRecords(ctx context.Context, key domain.TenantKey, limit, offset int) ([]domain.ScheduleRecord, error)
	GetSettings(ctx context.Context, key domain.TenantKey) (domain.AutopilotSettings, error)
	PutSettings(ctx context.Context, set domain.AutopilotSettings) error
}

// Emitter pushes ready events onto the trigger bus.
type Emitter interface {
	Emit(ctx context.Context, event domain.ReadyEvent) error
}

// Scheduler runs an on-demand scheduling batch for a tenant.
type Scheduler interface {
	OnReadyItemsAvailable(ctx context.Context, key domain.TenantKey) (autopilot.Result, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	emitter   Emitter
	scheduler Scheduler
	db        HealthChecker
}

func NewHandler(store Store, emitter Emitter, scheduler Scheduler) *Handler {
	return &Handler{store: store, emitter: emitter, scheduler: scheduler}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/items" && r.Method == http.MethodPost:
		h.ingestItem(w, r)

	case path == "/schedule" && r.Method == http.MethodPost:
		h.schedule(w, r)

	case path == "/records" && r.Method == http.MethodGet:
		h.listRecords(w, r)

	case path == "/settings" && r.Method == http.MethodGet:
		h.getSettings(w, r)

	case path == "/settings" && r.Method == http.MethodPut:
		h.putSettings(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		// Simple health check - just return ok
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	// Verbose health check - check all components
	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	// Check database connectivity with timeout
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	// Return appropriate status code based on health
	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) ingestItem(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req IngestItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Check if error is due to body size limit
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateIngestItem(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()

	itemID := uuid.New()
	if req.ItemID != "" {
		itemID = uuid.MustParse(req.ItemID) // validated above
	}

	readyAt := now
	if req.BecameReadyAt != "" {
		readyAt, _ = time.Parse(time.RFC3339, req.BecameReadyAt) // validated above
	}

	key := domain.TenantKey{Platform: req.Platform, Account: req.Account}
	item := domain.ReadyItem{
		ItemID:        itemID,
		TenantKey:     key,
		BecameReadyAt: readyAt,
		CreatedAt:     now,
	}

	if err := h.store.AddReadyItem(r.Context(), item); err != nil {
		log.Printf("api: ingest item error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to ingest item")
		return
	}

	// Wake the trigger worker. Failure is non-fatal: the periodic sweep
	// picks the item up on its next cycle.
	if h.emitter != nil {
		if err := h.emitter.Emit(r.Context(), domain.ReadyEvent{TenantKey: key, OccurredAt: now}); err != nil {
			log.Printf("api: trigger emit failed for tenant=%s: %v", key, err)
		}
	}

	writeJSON(w, http.StatusCreated, IngestItemResponse{
		ItemID:        item.ItemID.String(),
		Platform:      key.Platform,
		Account:       key.Account,
		BecameReadyAt: formatTime(item.BecameReadyAt),
	})
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := domain.TenantKey{Platform: req.Platform, Account: req.Account}

	res, err := h.scheduler.OnReadyItemsAvailable(r.Context(), key)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			writeError(w, http.StatusConflict, "a scheduling batch is already running for this tenant")
			return
		}
		log.Printf("api: schedule error for tenant=%s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "failed to schedule")
		return
	}

	resp := ScheduleResponse{
		Scheduled: make([]RecordResponse, len(res.Scheduled)),
		Skipped:   res.Skipped,
	}
	for i, rec := range res.Scheduled {
		resp.Scheduled[i] = toRecordResponse(rec)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	key := domain.TenantKey{
		Platform: r.URL.Query().Get("platform"),
		Account:  r.URL.Query().Get("account"),
	}
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "platform and account are required")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListRecords(r.Context(), key, limit, offset)
	if err != nil {
		log.Printf("api: list records error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	resp := ListRecordsResponse{Records: make([]RecordResponse, len(records))}
	for i, rec := range records {
		resp.Records[i] = toRecordResponse(rec)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	key := domain.TenantKey{
		Platform: r.URL.Query().Get("platform"),
		Account:  r.URL.Query().Get("account"),
	}
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "platform and account are required")
		return
	}

	set, err := h.store.GetSettings(r.Context(), key)
	if err != nil {
		log.Printf("api: get settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	resp := SettingsResponse{
		Platform:      key.Platform,
		Account:       key.Account,
		IntervalHours: set.IntervalHours,
		Enabled:       set.Enabled,
	}
	if !set.UpdatedAt.IsZero() {
		resp.UpdatedAt = formatTime(set.UpdatedAt)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateSettings(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	set := domain.AutopilotSettings{
		TenantKey:     domain.TenantKey{Platform: req.Platform, Account: req.Account},
		IntervalHours: req.IntervalHours,
		Enabled:       req.Enabled,
		UpdatedAt:     now,
	}

	if err := h.store.PutSettings(r.Context(), set); err != nil {
		log.Printf("api: put settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Platform:      set.TenantKey.Platform,
		Account:       set.TenantKey.Account,
		IntervalHours: set.IntervalHours,
		Enabled:       set.Enabled,
		UpdatedAt:     formatTime(now),
	})
}

func toRecordResponse(rec domain.ScheduleRecord) RecordResponse {
	return RecordResponse{
		ItemID:       rec.ItemID.String(),
		Platform:     rec.TenantKey.Platform,
		Account:      rec.TenantKey.Account,
		ScheduledFor: formatTime(rec.ScheduledFor),
		DecidedAt:    formatTime(rec.DecidedAt),
		Status:       string(rec.Status),
		Attempts:     rec.Attempts,
		CreatedAt:    formatTime(rec.CreatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
