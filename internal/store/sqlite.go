package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the gallery metadata database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Downloaded media metadata, keyed by the server-side filename
	CREATE TABLE IF NOT EXISTS media (
		name TEXT PRIMARY KEY,
		size_bytes INTEGER NOT NULL,
		modified_at DATETIME NOT NULL,
		is_video INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT,
		file_path TEXT NOT NULL,
		thumbnail_path TEXT,
		device_model TEXT,
		downloaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_media_modified_at ON media(modified_at);

	-- Single-row sync checkpoint
	CREATE TABLE IF NOT EXISTS sync_checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_time TEXT NOT NULL DEFAULT '',
		total_downloaded_count INTEGER NOT NULL DEFAULT 0,
		total_downloaded_bytes INTEGER NOT NULL DEFAULT 0
	);

	-- Durable key-value settings (client id lives here)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Seed the checkpoint row so reads never miss
	_, err := db.Exec(`INSERT OR IGNORE INTO sync_checkpoint (id) VALUES (1)`)
	return err
}
