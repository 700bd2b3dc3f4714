package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SummaryFileName is written into the summary directory after every batch.
const SummaryFileName = "batch_summary.json"

// maxSummaryErrors caps how many failure messages a summary retains. Older
// entries roll off so the newest failures are always present.
const maxSummaryErrors = 10

// Summary aggregates the outcome of one batch run.
type Summary struct {
	mu sync.Mutex

	BatchID    string    `json:"batch_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	BytesMoved       int64   `json:"bytes_moved"`
	TotalMB          float64 `json:"total_mb"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	DownloadRateMBps float64 `json:"download_rate_mbps"`
	SuccessRate      float64 `json:"success_rate"`

	Errors []string `json:"errors,omitempty"`
}

// NewSummary starts the clock for a batch of the given size.
func NewSummary(total int) *Summary {
	return &Summary{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now(),
		Total:     total,
	}
}

// Add folds one result into the tally.
func (s *Summary) Add(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch res.Status {
	case StatusDownloaded:
		s.Downloaded++
		s.BytesMoved += res.BytesNew
	case StatusSkipped:
		s.Skipped++
	default:
		s.Failed++

		if res.Err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("%s: %s", res.ResourceID, res.Err))
			if len(s.Errors) > maxSummaryErrors {
				s.Errors = s.Errors[len(s.Errors)-maxSummaryErrors:]
			}
		}
	}
}

// Finish stamps the end time and computes the derived figures.
func (s *Summary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FinishedAt = time.Now()
	s.ElapsedSeconds = s.FinishedAt.Sub(s.StartedAt).Seconds()
	s.TotalMB = float64(s.BytesMoved) / (1024 * 1024)

	if s.ElapsedSeconds > 0 {
		s.DownloadRateMBps = s.TotalMB / s.ElapsedSeconds
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Downloaded+s.Skipped) / float64(s.Total) * 100
	}
}

// WriteFile persists the summary as indented JSON under dir.
func (s *Summary) WriteFile(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create summary dir %s: %w", dir, err)
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	path := filepath.Join(dir, SummaryFileName)
	if err := os.WriteFile(path, raw, filePerm); err != nil {
		return fmt.Errorf("failed to write summary to %s: %w", path, err)
	}

	return nil
}
