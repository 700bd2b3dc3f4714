// Package transfer implements the engine core: resumable, checksummed HTTP
// transfers fanned out over a bounded worker pool, rate limited per window,
// with per-request retry and a persisted completion ledger consulted before
// any network work.
package transfer

import (
	"context"
	"time"

	"github.com/italolelis/batch_downloader/internal/ledger"
)

// Request is one unit of work for the engine: fetch URL into LocalPath.
// ResourceID is the stable key the ledger tracks the document under,
// independent of the exact URL used (links rot, resources do not).
type Request struct {
	URL            string
	LocalPath      string
	ResourceID     string
	ExpectedSHA256 string
}

// ResumeState is what a probe learned about one request: how many bytes
// already sit on disk, how big the remote says the document is, and whether
// the host honors range requests. Recomputed per run, never persisted.
type ResumeState struct {
	ExistingBytes int64
	RemoteSize    int64 // -1 when the probe could not determine it
	SupportsRange bool
	Complete      bool
}

// Status of one settled request.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Result is the per-request outcome handed to the reporting side.
type Result struct {
	ResourceID  string
	URL         string
	LocalPath   string
	Status      Status
	BytesNew    int64 // bytes fetched from the network during this run
	FileSize    int64 // final size on disk
	SHA256      string
	ContentType string
	Attempts    int
	Duration    time.Duration
	Err         error
}

// Ledger is the completion store the orchestrator consults before spending
// any network budget on a request.
type Ledger interface {
	Satisfied(ctx context.Context, resourceID, localPath string) (ledger.Record, bool)
	Put(ctx context.Context, rec ledger.Record) error
}

// Prober determines resume state for a request. Implementations degrade to
// "no resume info" instead of failing.
type Prober interface {
	Probe(ctx context.Context, req Request) ResumeState
}

// Transferer moves the bytes for one request.
type Transferer interface {
	Transfer(ctx context.Context, req Request, rs ResumeState) (Result, error)
}

// RateLimiter is satisfied by ratelimit.Limiter.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}
