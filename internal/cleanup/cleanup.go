package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// SweepTargetDir removes zero-byte files older than staleAfter, then prunes
// empty directories beneath dir. Non-empty partial files are kept so later
// runs can resume them.
func SweepTargetDir(ctx context.Context, dir string, staleAfter time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var dirs []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}

			return walkErr
		}

		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}

			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil // already deleted
			}

			return err
		}

		if info.Size() > 0 || now.Sub(info.ModTime()) <= staleAfter {
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete stale empty file", "file", path, "err", err)

			return err
		}

		logger.Info("Deleted stale empty file", "file", path)

		return nil
	})
	if err != nil {
		return err
	}

	// Deepest paths first so nested empty directories collapse in one pass.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return err
		}

		if len(entries) > 0 {
			continue
		}

		if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to remove empty directory", "dir", d, "err", err)

			return err
		}

		logger.Info("Removed empty directory", "dir", d)
	}

	return nil
}
