package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/italolelis/batch_downloader/internal/ledger"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Orchestrator drives a batch: it checks the ledger, holds the concurrency
// gate and the rate budget, probes, transfers, and records completions. One
// failing request never aborts the rest of the batch.
type Orchestrator struct {
	Gate    *Gate
	Limiter RateLimiter
	Prober  Prober
	Worker  Transferer
	Ledger  Ledger
	Tel     *telemetry.Telemetry
}

// RunBatch settles every request and reports the aggregated outcome. The
// returned results are in request order. An error is returned only when the
// batch itself is malformed; per-request failures live in the results and
// the summary.
func (o *Orchestrator) RunBatch(ctx context.Context, requests []Request) (*Summary, []Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := validateBatch(requests); err != nil {
		return nil, nil, err
	}

	summary := NewSummary(len(requests))
	results := make([]Result, len(requests))

	logger.Info("starting batch",
		"batch_id", summary.BatchID,
		"requests", len(requests),
		"parallelism", o.Gate.Capacity())

	wg, ctx := errgroup.WithContext(ctx)

	for i := range requests {
		req := requests[i]
		idx := i

		wg.Go(func() error {
			res := o.processOne(ctx, req)

			results[idx] = res
			summary.Add(res)

			return nil
		})
	}

	// Goroutines fold their own failures into the summary and return nil,
	// so there is no error to collect; a goroutine panic is re-raised here.
	wg.Wait()

	summary.Finish()

	logger.Info("batch finished",
		"batch_id", summary.BatchID,
		"downloaded", summary.Downloaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed_seconds", summary.ElapsedSeconds)

	return summary, results, nil
}

// processOne settles a single request. Every path returns a Result; errors
// are carried inside it.
func (o *Orchestrator) processOne(ctx context.Context, req Request) Result {
	ctx = logctx.WithAttrs(ctx, "resource_id", req.ResourceID, "url", req.URL)
	logger := logctx.LoggerFromContext(ctx)

	start := time.Now()

	// Cross-run idempotence: a ledgered, intact file costs nothing.
	if rec, ok := o.Ledger.Satisfied(ctx, req.ResourceID, req.LocalPath); ok {
		logger.Info("skipping transfer, ledger already satisfied", "target", req.LocalPath)
		o.Tel.RecordLedgerHit()
		o.Tel.RecordTransfer(string(StatusSkipped), 0, time.Since(start))

		return Result{
			ResourceID:  req.ResourceID,
			URL:         req.URL,
			LocalPath:   req.LocalPath,
			Status:      StatusSkipped,
			FileSize:    rec.FileSize,
			SHA256:      rec.SHA256,
			ContentType: rec.ContentType,
			Duration:    time.Since(start),
		}
	}

	if err := o.Gate.Acquire(ctx); err != nil {
		return o.failedResult(ctx, req, start, fmt.Errorf("failed to acquire transfer slot: %w", err))
	}
	defer o.Gate.Release()

	// One admission per request. Retries inside the worker ride on it.
	if err := o.Limiter.Acquire(ctx); err != nil {
		return o.failedResult(ctx, req, start, fmt.Errorf("failed to acquire rate budget: %w", err))
	}

	o.Tel.IncrementActiveTransfers()
	defer o.Tel.DecrementActiveTransfers()

	rs := o.Prober.Probe(ctx, req)
	if rs.Complete {
		logger.Info("local copy already complete, recording it", "target", req.LocalPath, "size", rs.ExistingBytes)

		res := Result{
			ResourceID: req.ResourceID,
			URL:        req.URL,
			LocalPath:  req.LocalPath,
			Status:     StatusSkipped,
			FileSize:   rs.ExistingBytes,
		}

		// Fingerprint the bytes already on disk so the ledger record is as
		// complete as one written after a transfer.
		if sum, err := checksumFile(req.LocalPath); err == nil {
			res.SHA256 = sum
		}

		if mt, err := mimetype.DetectFile(req.LocalPath); err == nil {
			res.ContentType = mt.String()
		}

		res.Duration = time.Since(start)

		o.record(ctx, req, &res)
		o.Tel.RecordTransfer(string(StatusSkipped), 0, res.Duration)

		return res
	}

	res, err := o.Worker.Transfer(ctx, req, rs)
	if err != nil {
		logger.Error("transfer failed", "target", req.LocalPath, "attempts", res.Attempts, "err", err)
		o.Tel.RecordTransfer(string(StatusFailed), res.BytesNew, res.Duration)

		return res
	}

	o.record(ctx, req, &res)
	o.Tel.RecordTransfer(string(StatusDownloaded), res.BytesNew, res.Duration)

	return res
}

// record writes the completion to the ledger. Ledger persistence trouble
// does not fail a transfer that already produced a good file.
func (o *Orchestrator) record(ctx context.Context, req Request, res *Result) {
	rec := ledger.Record{
		ResourceID:  req.ResourceID,
		URL:         req.URL,
		LocalPath:   req.LocalPath,
		FileSize:    res.FileSize,
		SHA256:      res.SHA256,
		ContentType: res.ContentType,
		CompletedAt: time.Now().UTC(),
	}

	if err := o.Ledger.Put(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record completion in ledger",
			"target", req.LocalPath, "err", err)
	}
}

func (o *Orchestrator) failedResult(ctx context.Context, req Request, start time.Time, err error) Result {
	logctx.LoggerFromContext(ctx).Error("request not attempted", "target", req.LocalPath, "err", err)
	o.Tel.RecordTransfer(string(StatusFailed), 0, time.Since(start))

	return Result{
		ResourceID: req.ResourceID,
		URL:        req.URL,
		LocalPath:  req.LocalPath,
		Status:     StatusFailed,
		Duration:   time.Since(start),
		Err:        err,
	}
}

// validateBatch rejects malformed batches up front so partial work never
// starts. Duplicate local paths or resource IDs within one batch would race
// against each other and are refused outright.
func validateBatch(requests []Request) error {
	paths := make(map[string]struct{}, len(requests))
	ids := make(map[string]struct{}, len(requests))

	for i, req := range requests {
		if req.URL == "" {
			return fmt.Errorf("request %d: empty URL", i)
		}

		if req.LocalPath == "" {
			return fmt.Errorf("request %d: empty local path", i)
		}

		if req.ResourceID == "" {
			return fmt.Errorf("request %d: empty resource id", i)
		}

		if _, dup := paths[req.LocalPath]; dup {
			return fmt.Errorf("request %d: duplicate local path %s", i, req.LocalPath)
		}

		if _, dup := ids[req.ResourceID]; dup {
			return fmt.Errorf("request %d: duplicate resource id %s", i, req.ResourceID)
		}

		paths[req.LocalPath] = struct{}{}
		ids[req.ResourceID] = struct{}{}
	}

	return nil
}
