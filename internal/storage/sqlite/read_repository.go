package sqlite

import (
	"database/sql"
	"errors"

	"github.com/italolelis/batch_downloader/internal/storage"
)

type BatchReadRepository struct {
	db *sql.DB
}

func NewBatchReadRepository(dbConn *sql.DB) *BatchReadRepository {
	return &BatchReadRepository{db: dbConn}
}

// GetBatches returns the most recent batches first, up to a limit.
func (r *BatchReadRepository) GetBatches(limit int) ([]storage.BatchRecord, error) {
	rows, err := r.db.Query(
		`SELECT
			batch_id,
			instance_id,
			started_at,
			finished_at,
			total,
			downloaded,
			skipped,
			failed,
			bytes_moved,
			success_rate
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []storage.BatchRecord

	for rows.Next() {
		record, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}

		batches = append(batches, record)
	}

	return batches, rows.Err()
}

func (r *BatchReadRepository) GetBatch(batchID string) (storage.BatchRecord, error) {
	row := r.db.QueryRow(
		`SELECT
			batch_id,
			instance_id,
			started_at,
			finished_at,
			total,
			downloaded,
			skipped,
			failed,
			bytes_moved,
			success_rate
		FROM batches
		WHERE batch_id = ?`, batchID)

	record, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.BatchRecord{}, storage.ErrNotFound
	}

	return record, err
}

// GetBatchTransfers returns every settled request of one batch.
func (r *BatchReadRepository) GetBatchTransfers(batchID string) ([]storage.TransferRecord, error) {
	rows, err := r.db.Query(
		`SELECT
			batch_id,
			resource_id,
			url,
			local_path,
			status,
			bytes_new,
			file_size,
			sha256,
			content_type,
			attempts,
			duration_ms,
			error
		FROM batch_transfers
		WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []storage.TransferRecord

	for rows.Next() {
		var record storage.TransferRecord

		var checksum, contentType, transferErr sql.NullString

		if err := rows.Scan(
			&record.BatchID,
			&record.ResourceID,
			&record.URL,
			&record.LocalPath,
			&record.Status,
			&record.BytesNew,
			&record.FileSize,
			&checksum,
			&contentType,
			&record.Attempts,
			&record.DurationMS,
			&transferErr,
		); err != nil {
			return nil, err
		}

		record.SHA256 = checksum.String
		record.ContentType = contentType.String
		record.Error = transferErr.String

		transfers = append(transfers, record)
	}

	return transfers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (storage.BatchRecord, error) {
	var record storage.BatchRecord

	var instanceID sql.NullString

	err := row.Scan(
		&record.BatchID,
		&instanceID,
		&record.StartedAt,
		&record.FinishedAt,
		&record.Total,
		&record.Downloaded,
		&record.Skipped,
		&record.Failed,
		&record.BytesMoved,
		&record.SuccessRate,
	)

	record.InstanceID = instanceID.String

	return record, err
}
