package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

// NewSQLiteDB opens an embedded database at path (":memory:" for a throwaway one).
// SQLite allows a single writer, so the pool is pinned to one connection; this also
// keeps an in-memory database alive for the lifetime of the pool.
func NewSQLiteDB(path string) (*sqlx.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	logger.Infof("Opened SQLite database %s", path)
	return db, nil
}
