package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/batch_downloader/internal/cleanup"
	"github.com/italolelis/batch_downloader/internal/config"
	"github.com/italolelis/batch_downloader/internal/fetch"
	"github.com/italolelis/batch_downloader/internal/http/rest"
	"github.com/italolelis/batch_downloader/internal/ledger"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/manifest"
	"github.com/italolelis/batch_downloader/internal/notifier"
	"github.com/italolelis/batch_downloader/internal/ratelimit"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/storage/sqlite"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"github.com/italolelis/batch_downloader/internal/transfer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("batch downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OtlpEndpoint: cfg.Telemetry.OtlpEndpoint,
		DiskPath:     cfg.TargetDir,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewInstrumentedBatchRepository(database, tel)

	// =========================================================================
	// Start Transfer Engine
	client := fetch.NewClient(fetch.Options{
		Timeout:      cfg.RequestTimeout,
		UserAgent:    cfg.UserAgent,
		ExtraHeaders: cfg.ExtraHeaders,
	})

	budget := ratelimit.New(cfg.CallsPerMinute, time.Minute)
	budget.OnWait = tel.RecordRateLimitWait

	retry := transfer.RetryPolicy{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		OnRetry:      func(int, error) { tel.RecordRetry() },
	}

	prober := &transfer.Probe{Client: client}

	engine := &transfer.Orchestrator{
		Gate:    transfer.NewGate(cfg.MaxParallel),
		Limiter: budget,
		Prober:  prober,
		Worker:  &transfer.Worker{Client: client, ChunkSize: cfg.ChunkSize, Retry: retry, Prober: prober},
		Ledger:  ledger.New(),
		Tel:     tel,
	}

	// =========================================================================
	// Start Notification
	var notify notifier.Notifier
	if cfg.WebhookURL != "" {
		notify = &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL, Client: client}
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	var lastSummary atomic.Pointer[transfer.Summary]

	server := setupServer(ctx, history, lastSummary.Load, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for batches...",
		"manifest", cfg.ManifestPath,
		"target_dir", cfg.TargetDir,
		"update_interval", cfg.UpdateInterval.String(),
	)

	// =========================================================================
	// Start Main Loop

	// The first batch runs immediately; in daemon mode the ticker schedules
	// re-runs, which the ledger keeps cheap.
	summary, err := runBatch(ctx, engine, history, notify, cfg)
	if err == nil {
		lastSummary.Store(summary)
	}

	if cfg.UpdateInterval <= 0 {
		if shutdownErr := shutdownServer(ctx, server, cfg.Web.ShutdownTimeout); shutdownErr != nil {
			logger.Error("failed to stop server", "err", shutdownErr)
		}

		return err
	}

	if err != nil {
		logger.Error("batch run failed", "err", err)
		tel.RecordSystemError("batch", "run_failed")
	}

	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			return shutdownServer(ctx, server, cfg.Web.ShutdownTimeout)
		case <-ticker.C:
			summary, err := runBatch(ctx, engine, history, notify, cfg)
			if err != nil {
				logger.Error("batch run failed", "err", err)
				tel.RecordSystemError("batch", "run_failed")

				continue
			}

			lastSummary.Store(summary)
		}
	}
}

// runBatch loads the manifest and settles every document it names, then
// persists, reports, and sweeps. Only a malformed manifest or batch is an
// error; per-document failures are folded into the summary.
func runBatch(ctx context.Context, engine *transfer.Orchestrator, history *sqlite.InstrumentedBatchRepository, notify notifier.Notifier, cfg *config.Config) (*transfer.Summary, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	summary, results, err := engine.RunBatch(ctx, m.Requests(cfg.TargetDir))
	if err != nil {
		return nil, err
	}

	engine.Tel.RecordBatch(batchStatus(summary), time.Since(start))

	if err := summary.WriteFile(cfg.SummaryDir); err != nil {
		logger.Error("failed to write batch summary file", "err", err)
	}

	persistBatch(ctx, history, summary, results)

	if notify != nil {
		err := engine.Tel.InstrumentClientOperation(ctx, "webhook", "notify", func(ctx context.Context) error {
			return notify.Notify(ctx, summary)
		})
		if err != nil {
			logger.Error("failed to send notification", "batch_id", summary.BatchID, "err", err)
		}
	}

	if cfg.CleanupEnabled {
		if err := cleanup.SweepTargetDir(ctx, cfg.TargetDir, cfg.StaleAfter); err != nil {
			logger.Error("failed to sweep target directory", "err", err)
		}
	}

	return summary, nil
}

func batchStatus(summary *transfer.Summary) string {
	switch {
	case summary.Failed == 0:
		return "ok"
	case summary.Downloaded+summary.Skipped > 0:
		return "partial"
	default:
		return "failed"
	}
}

func persistBatch(ctx context.Context, history *sqlite.InstrumentedBatchRepository, summary *transfer.Summary, results []transfer.Result) {
	logger := logctx.LoggerFromContext(ctx)

	batch := storage.BatchRecord{
		BatchID:     summary.BatchID,
		StartedAt:   summary.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:  summary.FinishedAt.UTC().Format(time.RFC3339),
		Total:       summary.Total,
		Downloaded:  summary.Downloaded,
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		BytesMoved:  summary.BytesMoved,
		SuccessRate: summary.SuccessRate,
	}

	if err := history.SaveBatch(batch); err != nil {
		logger.Error("failed to persist batch", "batch_id", summary.BatchID, "err", err)

		return
	}

	recs := make([]storage.TransferRecord, 0, len(results))

	for _, res := range results {
		rec := storage.TransferRecord{
			BatchID:     summary.BatchID,
			ResourceID:  res.ResourceID,
			URL:         res.URL,
			LocalPath:   res.LocalPath,
			Status:      string(res.Status),
			BytesNew:    res.BytesNew,
			FileSize:    res.FileSize,
			SHA256:      res.SHA256,
			ContentType: res.ContentType,
			Attempts:    res.Attempts,
			DurationMS:  res.Duration.Milliseconds(),
		}

		if res.Err != nil {
			rec.Error = res.Err.Error()
		}

		recs = append(recs, rec)
	}

	if err := history.SaveTransfers(recs); err != nil {
		logger.Error("failed to persist batch transfers", "batch_id", summary.BatchID, "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, history *sqlite.InstrumentedBatchRepository, latest func() *transfer.Summary, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewStatusHandler(history, latest, tel)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, timeout time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	logger.Info("start shutdown")

	// The parent context is usually already canceled by the time we get
	// here, so the shutdown deadline hangs off a fresh one.
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
