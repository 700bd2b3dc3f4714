// Package ledger persists completed transfer records as JSON documents kept
// next to the downloaded content, one per directory. The engine consults it
// before spending any network budget, which is what makes re-runs cheap.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

const (
	// FileName is the per-directory ledger document.
	FileName = ".transfers.json"

	dirPerm = 0o755
)

// Record is the durable outcome of one completed transfer. A later
// successful re-download of the same resource supersedes it; records are
// never mutated in place.
type Record struct {
	ResourceID  string    `json:"resource_id"`
	URL         string    `json:"url"`
	LocalPath   string    `json:"local_path"`
	FileSize    int64     `json:"file_size"`
	SHA256      string    `json:"sha256_checksum"`
	ContentType string    `json:"content_type,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Ledger maps resource IDs to their latest Record, persisted per content
// directory. A single orchestrator instance is assumed to be the only
// writer on the tree; in-process callers are serialized by a mutex.
type Ledger struct {
	mu    sync.Mutex
	cache map[string]map[string]Record
}

func New() *Ledger {
	return &Ledger{cache: make(map[string]map[string]Record)}
}

// Satisfied reports whether resourceID has a completed record whose file is
// still on disk with the recorded size. Externally deleted or truncated
// files fail the check and force a fresh download.
func (l *Ledger) Satisfied(ctx context.Context, resourceID, localPath string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.load(ctx, filepath.Dir(localPath))

	rec, ok := recs[resourceID]
	if !ok {
		return Record{}, false
	}

	fi, err := os.Stat(localPath)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 || fi.Size() != rec.FileSize {
		return Record{}, false
	}

	return rec, true
}

// Put records a completed transfer, overwriting any previous record for the
// same resource, and rewrites the directory document atomically so a crash
// mid-write cannot corrupt it.
func (l *Ledger) Put(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Dir(rec.LocalPath)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	recs := l.load(ctx, dir)
	recs[rec.ResourceID] = rec

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to close ledger temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	return nil
}

// load returns the record map for dir, reading the document on first touch.
// Missing or corrupted documents degrade to an empty map: the worst case is
// a redundant download, never an abort.
func (l *Ledger) load(ctx context.Context, dir string) map[string]Record {
	if recs, ok := l.cache[dir]; ok {
		return recs
	}

	recs := make(map[string]Record)
	l.cache[dir] = recs

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logctx.LoggerFromContext(ctx).Warn("failed to read ledger, treating as empty", "dir", dir, "err", err)
		}

		return recs
	}

	var onDisk map[string]Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		logctx.LoggerFromContext(ctx).Warn("corrupted ledger, treating as empty", "dir", dir, "err", err)

		return recs
	}

	for id, rec := range onDisk {
		recs[id] = rec
	}

	return recs
}
