package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the transfers table and its
// secondary indexes if they don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		torrent_name TEXT NOT NULL,
		torrent_hash TEXT,
		source_client TEXT,
		target_client TEXT,
		connection_name TEXT,
		media_type TEXT DEFAULT 'unknown',
		media_manager TEXT,
		size_bytes INTEGER DEFAULT 0,
		bytes_transferred INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending',
		error_message TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	)`)
	if err != nil {
		return nil, err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_created_at ON transfers(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_source ON transfers(source_client)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_target ON transfers(target_client)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_hash ON transfers(torrent_hash)`,
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}

	return db, nil
}
