package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/table"
)

// GlobalTenantID is used for criteria that apply to all tenants.
const GlobalTenantID = "*"

// uploadCounterKey is the cache counter behind the upload quota.
const uploadCounterKey = "uploads"

// Queue hands stored pending batches to the async worker.
type Queue interface {
	Enqueue(ctx context.Context, tenantID, batchID, traceID string) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer   *scoring.Scorer
	criteria *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	queue    Queue
	version  string

	maxUploadBytes   int64
	uploadsPerMinute int
}

// NewHandler creates a new API handler. repo, cache and queue may be nil.
func NewHandler(scorer *scoring.Scorer, criteria *rules.Engine, repo domain.Repository, cache domain.Cache, queue Queue, version string) *Handler {
	return &Handler{
		scorer:         scorer,
		criteria:       criteria,
		repo:           repo,
		cache:          cache,
		queue:          queue,
		version:        version,
		maxUploadBytes: 20 << 20,
	}
}

// BatchResponse describes a batch without its table.
type BatchResponse struct {
	ID         string              `json:"id"`
	Filename   string              `json:"filename"`
	Status     string              `json:"status"`
	PDSource   string              `json:"pdSource,omitempty"`
	RowCount   int                 `json:"rowCount"`
	RatedCount int                 `json:"ratedCount"`
	Summary    domain.BatchSummary `json:"summary"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	RatedAt    *time.Time          `json:"ratedAt,omitempty"`
}

func newBatchResponse(b *domain.Batch) BatchResponse {
	resp := BatchResponse{
		ID:         b.ID,
		Filename:   b.Filename,
		Status:     b.Status,
		PDSource:   b.PDSource,
		RowCount:   b.RowCount,
		RatedCount: b.RatedCount,
		Summary:    b.Summary,
		Error:      b.Error,
		CreatedAt:  b.CreatedAt,
	}
	if !b.RatedAt.IsZero() {
		ratedAt := b.RatedAt
		resp.RatedAt = &ratedAt
	}
	return resp
}

// CreateBatch handles POST /batches with a multipart "file" field.
// With ?async=true the batch is stored pending and rated by the worker.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.allowUpload(ctx, tenantID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "upload quota exceeded, retry in a minute",
		})
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("file exceeds %d MB", h.maxUploadBytes>>20),
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("file exceeds %d MB", h.maxUploadBytes>>20),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	tbl, err := table.Read(header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.submitBatch(w, r, header.Filename, tbl)
		return
	}

	b, err := h.scorer.Score(ctx, tenantID, header.Filename, tbl)
	if err != nil {
		slog.Error("batch scoring failed",
			"batch_id", b.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		writeJSON(w, http.StatusUnprocessableEntity, newBatchResponse(b))
		return
	}

	writeJSON(w, http.StatusCreated, newBatchResponse(b))
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request, filename string, tbl *table.Table) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.queue == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async scoring not available",
		})
		return
	}

	b, err := h.scorer.Submit(ctx, tenantID, filename, tbl)
	if err != nil {
		slog.Error("failed to submit batch", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to store batch",
		})
		return
	}

	if err := h.queue.Enqueue(ctx, tenantID, b.ID, GetTraceID(ctx)); err != nil {
		slog.Error("failed to enqueue batch", "batch_id", b.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, newBatchResponse(b))
}

// allowUpload counts the upload against the per-minute tenant quota.
// Counter failures do not block uploads.
func (h *Handler) allowUpload(ctx context.Context, tenantID string) bool {
	if h.uploadsPerMinute <= 0 || h.cache == nil {
		return true
	}
	count, err := h.cache.IncrementCounter(ctx, tenantID, uploadCounterKey, time.Minute)
	if err != nil {
		slog.Warn("upload counter failed", "tenant_id", tenantID, "error", err)
		return true
	}
	return count <= int64(h.uploadsPerMinute)
}

// RateRequest is the request body for POST /rate.
type RateRequest struct {
	Entities []RateEntity `json:"entities"`
}

// RateEntity is one entity to rate directly from its PD.
type RateEntity struct {
	Name   string   `json:"name"`
	Cohort string   `json:"cohort,omitempty"`
	Sector string   `json:"sector,omitempty"`
	PD     *float64 `json:"pd"`
}

// RatedEntity is one line of the POST /rate response.
type RatedEntity struct {
	Name string `json:"name"`
	domain.RatingResult
}

// Rate handles POST /rate. Entities without a finite PD in [0,1] are
// skipped and reported.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rows := make([]domain.EntityRow, 0, len(req.Entities))
	skipped := []string{}
	for i, e := range req.Entities {
		if e.PD == nil || *e.PD < 0 || *e.PD > 1 || math.IsNaN(*e.PD) {
			skipped = append(skipped, e.Name)
			continue
		}
		rows = append(rows, domain.EntityRow{Index: i, PD: *e.PD, Cohort: e.Cohort, Sector: e.Sector})
	}

	engine := h.scorer.Engine()
	results := engine.Rate(rows)

	rated := make([]RatedEntity, len(results))
	for i, res := range results {
		rated[i] = RatedEntity{Name: req.Entities[res.Index].Name, RatingResult: res}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": rated,
		"skipped": skipped,
		"summary": engine.Summarize(results),
	})
}

// ListBatches returns the latest batches of the tenant.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.repo.ListBatches(ctx, GetTenantID(ctx), limit)
	if err != nil {
		slog.Error("failed to list batches", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list batches",
		})
		return
	}

	resp := make([]BatchResponse, len(batches))
	for i, b := range batches {
		resp[i] = newBatchResponse(b)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": resp,
		"count":   len(resp),
	})
}

// GetBatch returns a batch summary.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(b))
}

// GetStatusView handles GET /batches/{id}/status?company=.
func (h *Handler) GetStatusView(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadRatedBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scoring.BuildStatusView(b, r.URL.Query().Get("company")))
}

// GetRatingView handles GET /batches/{id}/ratings?company=.
func (h *Handler) GetRatingView(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadRatedBatch(w, r)
	if !ok {
		return
	}
	view, ok := scoring.BuildRatingView(b, r.URL.Query().Get("company"), h.scorer.Engine().Scale())
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "batch has no ratings; no row carried a usable PD",
		})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Download handles GET /batches/{id}/download?fmt=csv|xlsx.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadRatedBatch(w, r)
	if !ok {
		return
	}

	format := table.Format(r.URL.Query().Get("fmt"))
	if format == "" {
		format = table.FormatXLSX
	}

	tbl := scoring.Table(b)
	switch format {
	case table.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="notes.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := tbl.WriteCSV(w); err != nil {
			slog.Error("failed to write csv", "batch_id", b.ID, "error", err)
		}
	case table.FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="notes.xlsx"`)
		w.WriteHeader(http.StatusOK)
		if err := tbl.WriteXLSX(w, table.ResultSheet); err != nil {
			slog.Error("failed to write xlsx", "batch_id", b.ID, "error", err)
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fmt must be csv or xlsx",
		})
	}
}

func (h *Handler) loadBatch(w http.ResponseWriter, r *http.Request) (*domain.Batch, bool) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	if batchID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch id is required",
		})
		return nil, false
	}

	b, err := h.scorer.Load(ctx, GetTenantID(ctx), batchID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return b, true
}

// loadRatedBatch answers 409 while the batch is pending or failed.
func (h *Handler) loadRatedBatch(w http.ResponseWriter, r *http.Request) (*domain.Batch, bool) {
	b, ok := h.loadBatch(w, r)
	if !ok {
		return nil, false
	}
	if b.Status != domain.BatchRated {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "batch is " + b.Status,
			"status": b.Status,
		})
		return nil, false
	}
	return b, true
}

// GetPolicy returns the active rating policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy := h.scorer.Engine().Policy()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy":   policy,
		"warnings": policy.Validate(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListCriteria returns the criteria loaded in the engine.
func (h *Handler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	loaded := h.criteria.GetLoadedCriteria()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"criteria": loaded,
		"count":    len(loaded),
	})
}

// CreateCriterionRequest is the request body for creating a criterion.
type CreateCriterionRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Fields      []string `json:"fields"`
	Enabled     bool     `json:"enabled"`
}

// CreateCriterion validates a criterion and saves it globally.
// After saving, call POST /criteria/reload to apply it.
func (h *Handler) CreateCriterion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCriterionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	criterion := &domain.Criterion{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     rules.DefaultVersion,
		Expression:  req.Expression,
		Fields:      req.Fields,
		Enabled:     req.Enabled,
	}

	if err := h.criteria.ValidateCriterion(criterion); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid criterion: " + err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SaveCriterion(ctx, GlobalTenantID, criterion); err != nil {
		slog.Error("failed to save criterion", "id", criterion.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save criterion",
		})
		return
	}

	slog.Info("criterion created", "id", criterion.ID, "name", criterion.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"criterion": criterion,
		"message":   "Criterion created. Call POST /criteria/reload to apply changes.",
	})
}

// ReloadCriteria reloads all criteria from the database into the engine.
func (h *Handler) ReloadCriteria(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stored, err := h.repo.ListCriteria(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list criteria from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load criteria from database",
		})
		return
	}

	if err := h.criteria.ReloadCriteria(stored); err != nil {
		slog.Error("failed to reload criteria into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload criteria: " + err.Error(),
		})
		return
	}

	slog.Info("criteria reloaded from database", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "criteria reloaded successfully",
		"count":   len(stored),
	})
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, scoring.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, table.ErrUnsupportedFormat),
		errors.Is(err, table.ErrEmptySheet):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
