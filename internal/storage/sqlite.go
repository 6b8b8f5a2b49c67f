// Package storage persists the bridge's small amount of durable state: the
// file manager audit log and the panel token ledger.
package storage

import (
	"database/sql"
	"sync"

	"go.uber.org/zap"

	// Pure-Go SQLite driver, registers "sqlite". No CGO needed, so the
	// bridge cross-compiles for every backend platform.
	_ "modernc.org/sqlite"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// MemoryPath opens a private in-memory database. Useful for tests.
const MemoryPath = ":memory:"

// SQLiteStore is the bridge's SQLite-backed store. It creates the database
// and tables on first use and serializes access with an internal lock.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSQLiteStore opens or creates the database at path and applies any
// pending migrations.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")
	logger.Debug("opening database", zap.String("path", path))

	// busy_timeout covers the CLI and a running bridge touching the same file.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	if path == MemoryPath {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	logger.Info("database ready", zap.String("path", path), zap.Int("schema_version", currentSchemaVersion))
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing database")
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
