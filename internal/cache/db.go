package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions: WAL so reads never block the persist writer, a busy timeout
// instead of immediate SQLITE_BUSY, foreign keys on.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB is the SQLite connection backing the local cache.
type DB struct {
	*sql.DB
}

// Open opens the cache database at path, creating it if absent.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	return &DB{sqlDB}, nil
}
