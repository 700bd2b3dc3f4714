package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/italolelis/batch_downloader/internal/storage"
)

// BatchWriteRepository implements storage.BatchWriteRepository and stores
// batch history in SQLite.
type BatchWriteRepository struct {
	db *sql.DB
}

func NewBatchWriteRepository(db *sql.DB) *BatchWriteRepository {
	return &BatchWriteRepository{db: db}
}

// SaveBatch stores one finished batch, stamped with this process instance.
func (r *BatchWriteRepository) SaveBatch(rec storage.BatchRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO batches (batch_id, instance_id, started_at, finished_at, total, downloaded, skipped, failed, bytes_moved, success_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID,
		storage.GenerateInstanceID(),
		rec.StartedAt,
		rec.FinishedAt,
		rec.Total,
		rec.Downloaded,
		rec.Skipped,
		rec.Failed,
		rec.BytesMoved,
		rec.SuccessRate,
	)

	return err
}

// SaveTransfers writes all settled requests of a batch in one transaction.
func (r *BatchWriteRepository) SaveTransfers(recs []storage.TransferRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO batch_transfers (batch_id, resource_id, url, local_path, status, bytes_new, file_size, sha256, content_type, attempts, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.Exec(
			rec.BatchID,
			rec.ResourceID,
			rec.URL,
			rec.LocalPath,
			rec.Status,
			rec.BytesNew,
			rec.FileSize,
			rec.SHA256,
			rec.ContentType,
			rec.Attempts,
			rec.DurationMS,
			rec.Error,
		); err != nil {
			tx.Rollback()

			return fmt.Errorf("failed to insert transfer record: %w", err)
		}
	}

	return tx.Commit()
}
