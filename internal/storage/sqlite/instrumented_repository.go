package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// InstrumentedBatchRepository wraps the batch repositories with telemetry.
type InstrumentedBatchRepository struct {
	reads     *BatchReadRepository
	writes    *BatchWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBatchRepository creates a new instrumented batch repository.
func NewInstrumentedBatchRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedBatchRepository {
	return &InstrumentedBatchRepository{
		reads:     NewBatchReadRepository(dbConn),
		writes:    NewBatchWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetBatches retrieves recent batches with telemetry.
func (r *InstrumentedBatchRepository) GetBatches(limit int) ([]storage.BatchRecord, error) {
	var result []storage.BatchRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_batches", func(ctx context.Context) error {
		result, err = r.reads.GetBatches(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetBatch retrieves one batch with telemetry.
func (r *InstrumentedBatchRepository) GetBatch(batchID string) (storage.BatchRecord, error) {
	var result storage.BatchRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_batch", func(ctx context.Context) error {
		result, err = r.reads.GetBatch(batchID)

		return err
	})

	if instrumentedErr != nil {
		return storage.BatchRecord{}, instrumentedErr
	}

	return result, nil
}

// GetBatchTransfers retrieves the settled requests of a batch with telemetry.
func (r *InstrumentedBatchRepository) GetBatchTransfers(batchID string) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_batch_transfers", func(ctx context.Context) error {
		result, err = r.reads.GetBatchTransfers(batchID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// SaveBatch persists a finished batch with telemetry.
func (r *InstrumentedBatchRepository) SaveBatch(rec storage.BatchRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save_batch", func(ctx context.Context) error {
		return r.writes.SaveBatch(rec)
	})
}

// SaveTransfers persists the settled requests of a batch with telemetry.
func (r *InstrumentedBatchRepository) SaveTransfers(recs []storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save_transfers", func(ctx context.Context) error {
		return r.writes.SaveTransfers(recs)
	})
}
