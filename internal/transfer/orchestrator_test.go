package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/batch_downloader/internal/ledger"
	"github.com/italolelis/batch_downloader/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProber struct {
	rs ResumeState
}

func (p staticProber) Probe(_ context.Context, _ Request) ResumeState {
	return p.rs
}

type recordingLedger struct {
	mu   sync.Mutex
	recs []ledger.Record
}

func (l *recordingLedger) Satisfied(_ context.Context, _, _ string) (ledger.Record, bool) {
	return ledger.Record{}, false
}

func (l *recordingLedger) Put(_ context.Context, rec ledger.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recs = append(l.recs, rec)

	return nil
}

type countingLimiter struct {
	n atomic.Int32
}

func (c *countingLimiter) Acquire(_ context.Context) error {
	c.n.Add(1)

	return nil
}

// trackingTransferer records how many transfers overlap in time.
type trackingTransferer struct {
	mu     sync.Mutex
	active int
	peak   int
	delay  time.Duration
}

func (tt *trackingTransferer) Transfer(ctx context.Context, req Request, _ ResumeState) (Result, error) {
	tt.mu.Lock()
	tt.active++

	if tt.active > tt.peak {
		tt.peak = tt.active
	}
	tt.mu.Unlock()

	defer func() {
		tt.mu.Lock()
		tt.active--
		tt.mu.Unlock()
	}()

	res := Result{ResourceID: req.ResourceID, URL: req.URL, LocalPath: req.LocalPath}

	select {
	case <-ctx.Done():
		res.Status = StatusFailed
		res.Err = ctx.Err()

		return res, ctx.Err()
	case <-time.After(tt.delay):
		res.Status = StatusDownloaded
		res.FileSize = 1

		return res, nil
	}
}

func batchOf(t *testing.T, dir string, n int) []Request {
	t.Helper()

	reqs := make([]Request, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, Request{
			URL:        fmt.Sprintf("http://get.invalid/doc-%03d.pdf", i),
			LocalPath:  filepath.Join(dir, fmt.Sprintf("doc-%03d.pdf", i)),
			ResourceID: fmt.Sprintf("RES-%03d", i),
		})
	}

	return reqs
}

func TestRunBatchRejectsMalformedBatches(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		requests []Request
		wantErr  string
	}{
		{
			name:     "empty url",
			requests: []Request{{LocalPath: filepath.Join(dir, "a.pdf"), ResourceID: "A"}},
			wantErr:  "empty URL",
		},
		{
			name:     "empty local path",
			requests: []Request{{URL: "http://get.invalid/a.pdf", ResourceID: "A"}},
			wantErr:  "empty local path",
		},
		{
			name:     "empty resource id",
			requests: []Request{{URL: "http://get.invalid/a.pdf", LocalPath: filepath.Join(dir, "a.pdf")}},
			wantErr:  "empty resource id",
		},
		{
			name: "duplicate local path",
			requests: []Request{
				{URL: "http://get.invalid/a.pdf", LocalPath: filepath.Join(dir, "same.pdf"), ResourceID: "A"},
				{URL: "http://get.invalid/b.pdf", LocalPath: filepath.Join(dir, "same.pdf"), ResourceID: "B"},
			},
			wantErr: "duplicate local path",
		},
		{
			name: "duplicate resource id",
			requests: []Request{
				{URL: "http://get.invalid/a.pdf", LocalPath: filepath.Join(dir, "a.pdf"), ResourceID: "A"},
				{URL: "http://get.invalid/b.pdf", LocalPath: filepath.Join(dir, "b.pdf"), ResourceID: "A"},
			},
			wantErr: "duplicate resource id",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := &Orchestrator{
				Gate:    NewGate(1),
				Limiter: &countingLimiter{},
				Prober:  staticProber{},
				Worker:  &trackingTransferer{},
				Ledger:  &recordingLedger{},
			}

			summary, results, err := o.RunBatch(context.Background(), tc.requests)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Nil(t, summary)
			assert.Nil(t, results)
		})
	}
}

func TestRunBatchMovesEverything(t *testing.T) {
	payload := pdfPayload(1500)
	srv := serveRanged(t, payload)
	dir := t.TempDir()

	reqs := batchOf(t, dir, 6)
	for i := range reqs {
		reqs[i].URL = srv.URL + fmt.Sprintf("/doc-%03d.pdf", i)
	}

	o := &Orchestrator{
		Gate:    NewGate(2),
		Limiter: ratelimit.New(100, time.Minute),
		Prober:  &Probe{Client: srv.Client()},
		Worker:  &Worker{Client: srv.Client(), Retry: quickRetry(2)},
		Ledger:  ledger.New(),
	}

	summary, results, err := o.RunBatch(context.Background(), reqs)

	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 6, summary.Downloaded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(6*len(payload)), summary.BytesMoved)
	assert.InDelta(t, 100.0, summary.SuccessRate, 0.001)

	require.Len(t, results, 6)

	for i, res := range results {
		assert.Equal(t, reqs[i].ResourceID, res.ResourceID, "results keep request order")
		assert.Equal(t, StatusDownloaded, res.Status)
		assert.Equal(t, sha256Hex(payload), res.SHA256)

		got, err := os.ReadFile(reqs[i].LocalPath)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}

	_, err = os.Stat(filepath.Join(dir, ledger.FileName))
	assert.NoError(t, err, "completions should be ledgered next to the files")
}

func TestRunBatchSecondRunTouchesNoNetwork(t *testing.T) {
	payload := pdfPayload(900)

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))

		if r.Method != http.MethodHead {
			w.Write(payload)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()

	reqs := batchOf(t, dir, 4)
	for i := range reqs {
		reqs[i].URL = srv.URL + fmt.Sprintf("/doc-%03d.pdf", i)
	}

	newOrchestrator := func(limiter RateLimiter) *Orchestrator {
		return &Orchestrator{
			Gate:    NewGate(3),
			Limiter: limiter,
			Prober:  &Probe{Client: srv.Client()},
			Worker:  &Worker{Client: srv.Client(), Retry: quickRetry(2)},
			Ledger:  ledger.New(),
		}
	}

	first, _, err := newOrchestrator(ratelimit.New(100, time.Minute)).RunBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Equal(t, 4, first.Downloaded)

	hitsAfterFirst := hits.Load()
	require.Positive(t, hitsAfterFirst)

	// Fresh orchestrator and fresh ledger cache: completions must be read
	// back from disk, and satisfied requests must cost neither network
	// traffic nor rate budget.
	budget := &countingLimiter{}

	second, results, err := newOrchestrator(budget).RunBatch(context.Background(), reqs)
	require.NoError(t, err)

	assert.Equal(t, 4, second.Skipped)
	assert.Zero(t, second.Downloaded)
	assert.Zero(t, second.Failed)
	assert.Equal(t, hitsAfterFirst, hits.Load(), "second run must not touch the network")
	assert.Zero(t, budget.n.Load(), "skipped requests must not spend rate budget")

	for _, res := range results {
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, sha256Hex(payload), res.SHA256, "skip reports the ledgered checksum")
	}
}

func TestRunBatchHonorsGateCapacity(t *testing.T) {
	dir := t.TempDir()
	tt := &trackingTransferer{delay: 20 * time.Millisecond}

	o := &Orchestrator{
		Gate:    NewGate(2),
		Limiter: &countingLimiter{},
		Prober:  staticProber{},
		Worker:  tt,
		Ledger:  &recordingLedger{},
	}

	summary, _, err := o.RunBatch(context.Background(), batchOf(t, dir, 8))

	require.NoError(t, err)
	assert.Equal(t, 8, summary.Downloaded)
	assert.LessOrEqual(t, tt.peak, 2, "no more than gate capacity may overlap")
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	payload := pdfPayload(700)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))

		if r.Method != http.MethodHead {
			w.Write(payload)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()

	var reqs []Request

	for i := 0; i < 5; i++ {
		reqs = append(reqs, Request{
			URL:        srv.URL + fmt.Sprintf("/doc-%d.pdf", i),
			LocalPath:  filepath.Join(dir, fmt.Sprintf("doc-%d.pdf", i)),
			ResourceID: fmt.Sprintf("GOOD-%d", i),
		})
		reqs = append(reqs, Request{
			URL:        srv.URL + fmt.Sprintf("/missing-%d.pdf", i),
			LocalPath:  filepath.Join(dir, fmt.Sprintf("missing-%d.pdf", i)),
			ResourceID: fmt.Sprintf("BAD-%d", i),
		})
	}

	o := &Orchestrator{
		Gate:    NewGate(3),
		Limiter: ratelimit.New(100, time.Minute),
		Prober:  &Probe{Client: srv.Client()},
		Worker:  &Worker{Client: srv.Client(), Retry: quickRetry(2)},
		Ledger:  ledger.New(),
	}

	summary, results, err := o.RunBatch(context.Background(), reqs)

	require.NoError(t, err, "request failures must not abort the batch")
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 5, summary.Downloaded)
	assert.Equal(t, 5, summary.Failed)
	assert.InDelta(t, 50.0, summary.SuccessRate, 0.001)
	assert.Len(t, summary.Errors, 5)

	settled := 0

	for _, res := range results {
		if res.Status != "" {
			settled++
		}
	}

	assert.Equal(t, 10, settled, "every request settles exactly once")
}

func TestRunBatchFoldsCancellation(t *testing.T) {
	dir := t.TempDir()
	tt := &trackingTransferer{delay: 50 * time.Millisecond}

	o := &Orchestrator{
		Gate:    NewGate(1),
		Limiter: &countingLimiter{},
		Prober:  staticProber{},
		Worker:  tt,
		Ledger:  &recordingLedger{},
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(70 * time.Millisecond)
		cancel()
	}()

	summary, results, err := o.RunBatch(ctx, batchOf(t, dir, 6))

	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, 6, summary.Downloaded+summary.Failed)
	assert.Positive(t, summary.Downloaded, "work started before cancellation should finish")
	assert.Positive(t, summary.Failed, "work not yet admitted should settle as failed")
}

func TestRunBatchRecordsProbeCompleteFiles(t *testing.T) {
	dir := t.TempDir()
	payload := pdfPayload(2048)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc-000.pdf"), payload, 0o644))

	led := &recordingLedger{}

	o := &Orchestrator{
		Gate:    NewGate(1),
		Limiter: &countingLimiter{},
		Prober:  staticProber{rs: ResumeState{ExistingBytes: 2048, RemoteSize: 2048, SupportsRange: true, Complete: true}},
		Worker:  &trackingTransferer{},
		Ledger:  led,
	}

	summary, results, err := o.RunBatch(context.Background(), batchOf(t, dir, 1))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	require.Len(t, results, 1)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, int64(2048), results[0].FileSize)
	assert.Equal(t, sha256Hex(payload), results[0].SHA256)

	require.Len(t, led.recs, 1, "an already complete file still gets ledgered")
	assert.Equal(t, "RES-000", led.recs[0].ResourceID)
	assert.Equal(t, sha256Hex(payload), led.recs[0].SHA256, "the record carries a checksum even though no bytes moved")
	assert.Equal(t, "application/pdf", led.recs[0].ContentType)
}

func TestRunBatchLedgersOnlyCompletedTransfers(t *testing.T) {
	payload := pdfPayload(1000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.pdf" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))

		if r.Method != http.MethodHead {
			w.Write(payload)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.pdf")
	pathB := filepath.Join(dir, "b.pdf")

	o := &Orchestrator{
		Gate:    NewGate(2),
		Limiter: ratelimit.New(60, time.Minute),
		Prober:  &Probe{Client: srv.Client()},
		Worker:  &Worker{Client: srv.Client(), Retry: quickRetry(2)},
		Ledger:  ledger.New(),
	}

	summary, _, err := o.RunBatch(context.Background(), []Request{
		{URL: srv.URL + "/a.pdf", LocalPath: pathA, ResourceID: "REPORT-A"},
		{URL: srv.URL + "/b.pdf", LocalPath: pathB, ResourceID: "REPORT-B"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int64(1000), summary.BytesMoved)

	// A cold read of the on-disk ledger sees the success and nothing else.
	led := ledger.New()

	rec, ok := led.Satisfied(context.Background(), "REPORT-A", pathA)
	require.True(t, ok)
	assert.Equal(t, int64(1000), rec.FileSize)

	_, ok = led.Satisfied(context.Background(), "REPORT-B", pathB)
	assert.False(t, ok)
}
