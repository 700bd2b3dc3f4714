package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// BatchRecord is one persisted batch run. InstanceID identifies the process
// that ran it, useful when several hosts share one database.
type BatchRecord struct {
	BatchID     string
	InstanceID  string
	StartedAt   string
	FinishedAt  string
	Total       int
	Downloaded  int
	Skipped     int
	Failed      int
	BytesMoved  int64
	SuccessRate float64
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}

// TransferRecord is one settled request within a batch.
type TransferRecord struct {
	BatchID     string
	ResourceID  string
	URL         string
	LocalPath   string
	Status      string
	BytesNew    int64
	FileSize    int64
	SHA256      string
	ContentType string
	Attempts    int
	DurationMS  int64
	Error       string
}

// BatchReadRepository serves batch history queries.
type BatchReadRepository interface {
	GetBatches(limit int) ([]BatchRecord, error)
	GetBatch(batchID string) (BatchRecord, error)
	GetBatchTransfers(batchID string) ([]TransferRecord, error)
}

// BatchWriteRepository persists finished batches.
type BatchWriteRepository interface {
	SaveBatch(rec BatchRecord) error
	SaveTransfers(recs []TransferRecord) error
}
