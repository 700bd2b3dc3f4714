package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/transfer/progress"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	defaultChunkSize = 32 * 1024

	// progressInterval is how many bytes flow between progress log lines.
	progressInterval = int64(5 * 1024 * 1024)
)

// Worker copies remote bytes to local paths, one request at a time, retrying
// transient failures. Safe for concurrent use: per-request state lives on
// the stack of each Transfer call.
type Worker struct {
	Client    *http.Client
	ChunkSize int
	Retry     RetryPolicy

	// Prober, when set, refreshes resume state on retry attempts that
	// started without any.
	Prober Prober
}

// Transfer performs one request end to end under the retry policy, honoring
// the probed resume state. On success the Result carries the final size,
// checksum, sniffed content type, and how many bytes actually crossed the
// network this run.
func (w *Worker) Transfer(ctx context.Context, req Request, rs ResumeState) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	res := Result{
		ResourceID: req.ResourceID,
		URL:        req.URL,
		LocalPath:  req.LocalPath,
		Status:     StatusFailed,
	}

	err := w.Retry.Do(ctx, func(ctx context.Context) error {
		res.Attempts++

		return w.attempt(ctx, req, rs, &res)
	})

	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err

		return res, err
	}

	res.Status = StatusDownloaded

	logger.Info("downloaded and saved file",
		"target", req.LocalPath,
		"size", humanize.Bytes(uint64(res.FileSize)),
		"fetched", humanize.Bytes(uint64(res.BytesNew)),
		"attempts", res.Attempts)

	return res, nil
}

// attempt is one pass over the wire. The resume offset is recomputed from
// disk on every attempt because a failed attempt may have grown the partial.
func (w *Worker) attempt(ctx context.Context, req Request, rs ResumeState, res *Result) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(req.LocalPath), dirPerm); err != nil {
		return &LocalError{Op: "mkdir", Path: filepath.Dir(req.LocalPath), Err: err}
	}

	// The first probe may have failed transiently; later attempts ask again
	// rather than assuming a full restart.
	if res.Attempts > 1 && w.Prober != nil && rs.RemoteSize < 0 && !rs.SupportsRange {
		rs = w.Prober.Probe(ctx, req)

		if rs.Complete {
			return w.finalize(ctx, req, rs, res)
		}
	}

	var offset int64

	// Resuming needs both range support and a known remote size; without a
	// size there is no way to tell a finished partial from an unfinished one.
	if rs.SupportsRange && rs.RemoteSize > 0 {
		if fi, err := os.Stat(req.LocalPath); err == nil && fi.Mode().IsRegular() {
			offset = fi.Size()
		}

		// A prior attempt may have fetched the whole body and failed later;
		// nothing left on the wire means we go straight to verification.
		if offset >= rs.RemoteSize {
			return w.finalize(ctx, req, rs, res)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}

	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := w.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	var out *os.File

	switch resp.StatusCode {
	case http.StatusPartialContent:
		logger.Debug("resuming transfer", "target", req.LocalPath, "offset", offset)

		out, err = os.OpenFile(req.LocalPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	case http.StatusOK:
		if offset > 0 {
			logger.Debug("server ignored range request, restarting from zero", "target", req.LocalPath)
		}

		out, err = os.OpenFile(req.LocalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	default:
		return &RemoteError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	if err != nil {
		return &LocalError{Op: "open", Path: req.LocalPath, Err: err}
	}

	written, copyErr := w.copyChunks(ctx, out, w.progressReader(ctx, resp, req), req.LocalPath)
	res.BytesNew += written

	closeErr := out.Close()

	if copyErr != nil {
		// Non-empty partials stay on disk for a later resume; a zero-byte
		// leftover has no resume value.
		w.discardIfEmpty(ctx, req.LocalPath)

		return fmt.Errorf("transfer of %s interrupted: %w", req.URL, copyErr)
	}

	if closeErr != nil {
		return &LocalError{Op: "close", Path: req.LocalPath, Err: closeErr}
	}

	return w.finalize(ctx, req, rs, res)
}

// copyChunks streams src into dst with a bounded buffer, checking for
// cancellation between chunks so an aborted transfer still ends on a valid
// prefix. Write-side failures come back as LocalError; read-side failures
// come back raw for transience classification.
func (w *Worker) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, path string) (int64, error) {
	chunk := w.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	buf := make([]byte, chunk)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)

			if writeErr != nil {
				return written, &LocalError{Op: "write", Path: path, Err: writeErr}
			}

			if wn < n {
				return written, &LocalError{Op: "write", Path: path, Err: io.ErrShortWrite}
			}
		}

		if readErr == io.EOF {
			return written, nil
		}

		if readErr != nil {
			return written, readErr
		}
	}
}

// finalize verifies and fingerprints the completed file.
func (w *Worker) finalize(ctx context.Context, req Request, rs ResumeState, res *Result) error {
	logger := logctx.LoggerFromContext(ctx)

	fi, err := os.Stat(req.LocalPath)
	if err != nil {
		return &LocalError{Op: "stat", Path: req.LocalPath, Err: err}
	}

	if fi.Size() == 0 {
		w.discardIfEmpty(ctx, req.LocalPath)

		return &EmptyResponseError{URL: req.URL}
	}

	sum, err := checksumFile(req.LocalPath)
	if err != nil {
		return &LocalError{Op: "checksum", Path: req.LocalPath, Err: err}
	}

	if req.ExpectedSHA256 != "" && !strings.EqualFold(req.ExpectedSHA256, sum) {
		if err := os.Remove(req.LocalPath); err != nil {
			logger.Warn("failed to remove file with bad checksum", "path", req.LocalPath, "err", err)
		}

		return &ChecksumMismatchError{
			Path: req.LocalPath,
			Want: strings.ToLower(req.ExpectedSHA256),
			Got:  sum,
		}
	}

	// Remote-reported sizes are unreliable for dynamically generated
	// documents, so a mismatch is a warning, not a failure.
	if rs.RemoteSize > 0 && fi.Size() != rs.RemoteSize {
		logger.Warn("final size differs from probed remote size",
			"path", req.LocalPath,
			"local_bytes", fi.Size(),
			"remote_bytes", rs.RemoteSize)
	}

	res.FileSize = fi.Size()
	res.SHA256 = sum

	if mt, err := mimetype.DetectFile(req.LocalPath); err == nil {
		res.ContentType = mt.String()
	}

	return nil
}

func (w *Worker) progressReader(ctx context.Context, resp *http.Response, req Request) io.Reader {
	logger := logctx.LoggerFromContext(ctx)

	return progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("transfer progress",
				"url", req.URL,
				"read", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("transfer progress", "url", req.URL, "read", humanize.Bytes(uint64(read)))
		}
	})
}

func (w *Worker) discardIfEmpty(ctx context.Context, path string) {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() > 0 {
		return
	}

	if err := os.Remove(path); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to remove empty file", "path", path, "err", err)
	}
}

func (w *Worker) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}

	return http.DefaultClient
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
