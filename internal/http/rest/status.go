package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"github.com/italolelis/batch_downloader/internal/transfer"
)

const defaultBatchListLimit = 20

// Batch is the wire view of one batch run.
type Batch struct {
	BatchID     string  `json:"batch_id"`
	InstanceID  string  `json:"instance_id,omitempty"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at"`
	Total       int     `json:"total"`
	Downloaded  int     `json:"downloaded"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	BytesMoved  int64   `json:"bytes_moved"`
	SuccessRate float64 `json:"success_rate"`
}

// Transfer is the wire view of one settled request.
type Transfer struct {
	ResourceID  string `json:"resource_id"`
	URL         string `json:"url"`
	LocalPath   string `json:"local_path"`
	Status      string `json:"status"`
	BytesNew    int64  `json:"bytes_new"`
	FileSize    int64  `json:"file_size"`
	SHA256      string `json:"sha256,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Attempts    int    `json:"attempts"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// BatchDetail is one batch plus everything it settled.
type BatchDetail struct {
	Batch     Batch      `json:"batch"`
	Transfers []Transfer `json:"transfers"`
}

// Health is the liveness payload.
type Health struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusHandler serves the operational API: liveness, metrics, the latest
// batch summary, and persisted batch history.
type StatusHandler struct {
	history   storage.BatchReadRepository
	latest    func() *transfer.Summary
	telemetry *telemetry.Telemetry
	started   time.Time
}

func NewStatusHandler(history storage.BatchReadRepository, latest func() *transfer.Summary, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		history:   history,
		latest:    latest,
		telemetry: t,
		started:   time.Now(),
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/summary", h.HandleSummary)
		r.Get("/batches", h.HandleBatches)
		r.Get("/batches/{batchID}", h.HandleBatch)
	})

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, Health{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

// HandleSummary returns the summary of the most recent batch of this
// process, or 404 when no batch has run yet.
func (h *StatusHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.latest()
	if summary == nil {
		http.Error(w, "no batch has run yet", http.StatusNotFound)

		return
	}

	writeJSON(w, r, http.StatusOK, summary)
}

func (h *StatusHandler) HandleBatches(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultBatchListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	records, err := h.history.GetBatches(limit)
	if err != nil {
		logger.Error("failed to list batches", "err", err)
		http.Error(w, "failed to list batches", http.StatusInternalServerError)

		return
	}

	batches := make([]Batch, 0, len(records))
	for _, rec := range records {
		batches = append(batches, newBatch(rec))
	}

	writeJSON(w, r, http.StatusOK, batches)
}

func (h *StatusHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	batchID := chi.URLParam(r, "batchID")

	record, err := h.history.GetBatch(batchID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "batch not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.Error("failed to load batch", "batch_id", batchID, "err", err)
		http.Error(w, "failed to load batch", http.StatusInternalServerError)

		return
	}

	transfers, err := h.history.GetBatchTransfers(batchID)
	if err != nil {
		logger.Error("failed to load batch transfers", "batch_id", batchID, "err", err)
		http.Error(w, "failed to load batch", http.StatusInternalServerError)

		return
	}

	detail := BatchDetail{
		Batch:     newBatch(record),
		Transfers: make([]Transfer, 0, len(transfers)),
	}

	for _, rec := range transfers {
		detail.Transfers = append(detail.Transfers, Transfer{
			ResourceID:  rec.ResourceID,
			URL:         rec.URL,
			LocalPath:   rec.LocalPath,
			Status:      rec.Status,
			BytesNew:    rec.BytesNew,
			FileSize:    rec.FileSize,
			SHA256:      rec.SHA256,
			ContentType: rec.ContentType,
			Attempts:    rec.Attempts,
			DurationMS:  rec.DurationMS,
			Error:       rec.Error,
		})
	}

	writeJSON(w, r, http.StatusOK, detail)
}

func newBatch(rec storage.BatchRecord) Batch {
	return Batch{
		BatchID:     rec.BatchID,
		InstanceID:  rec.InstanceID,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Total:       rec.Total,
		Downloaded:  rec.Downloaded,
		Skipped:     rec.Skipped,
		Failed:      rec.Failed,
		BytesMoved:  rec.BytesMoved,
		SuccessRate: rec.SuccessRate,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
