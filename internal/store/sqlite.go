package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// sqlitePragmas are applied to every connection we open. modernc.org/sqlite
// ignores most DSN parameters, so they are set with statements.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -32768",
	"PRAGMA temp_store = MEMORY",
}

// OpenSQLite opens a database at path, or an in-memory database when path
// is empty, with a single connection and WAL pragmas applied.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to create directory "+filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to open database", err)
	}

	// One connection: the in-memory database is per connection, and a
	// single writer avoids lock contention on disk.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range sqlitePragmas {
		if path == "" && strings.Contains(pragma, "journal_mode") {
			continue
		}
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to set pragma", err)
		}
	}
	return db, nil
}

// classifySQLiteError tags lock contention as retryable storage-busy.
func classifySQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return agenterrors.New(agenterrors.ErrCodeStorageBusy, op, err)
	}
	return agenterrors.New(agenterrors.ErrCodeStorageWrite, op, err)
}

// WithRetry runs fn, retrying storage-busy failures with backoff.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	return agenterrors.Retry(ctx, agenterrors.StorageRetryConfig(), func() error {
		return classifySQLiteError(op, fn())
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func validateSQLiteIntegrity(path string, table string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, table).Scan(&count); err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table %q missing", table)
	}
	return nil
}
