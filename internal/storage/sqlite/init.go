package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at dbPath and creates the history tables
// if they don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		instance_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		total INTEGER,
		downloaded INTEGER,
		skipped INTEGER,
		failed INTEGER,
		bytes_moved INTEGER,
		success_rate REAL
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS batch_transfers (
		id INTEGER PRIMARY KEY,
		batch_id TEXT,
		resource_id TEXT,
		url TEXT,
		local_path TEXT,
		status TEXT,
		bytes_new INTEGER,
		file_size INTEGER,
		sha256 TEXT,
		content_type TEXT,
		attempts INTEGER,
		duration_ms INTEGER,
		error TEXT
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
