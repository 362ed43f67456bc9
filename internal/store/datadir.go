package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// BM25Backend selects the lexical index implementation.
type BM25Backend string

const (
	// BM25BackendMemory is the in-process BM25Engine, rebuilt from the catalog on open.
	BM25BackendMemory BM25Backend = "memory"
	// BM25BackendSQLite uses SQLite FTS5 next to the catalog.
	BM25BackendSQLite BM25Backend = "sqlite"
	// BM25BackendBleve uses a bleve index directory.
	BM25BackendBleve BM25Backend = "bleve"
)

// DataDir is the on-disk layout of one agentmem store. Writers hold an
// exclusive flock on the directory for as long as it is open.
type DataDir struct {
	Root string
	lock *flock.Flock
}

// OpenDataDir creates root if needed and acquires its lock, waiting up to
// wait for another process to release it. Read-only opens take a shared lock.
func OpenDataDir(ctx context.Context, root string, readOnly bool, wait time.Duration) (*DataDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to create data directory", err)
	}

	lk := flock.New(filepath.Join(root, ".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if readOnly {
		ok, err = lk.TryRLockContext(lockCtx, 50*time.Millisecond)
	} else {
		ok, err = lk.TryLockContext(lockCtx, 50*time.Millisecond)
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || !ok {
		return nil, agenterrors.New(agenterrors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory %s is locked by another process", root), err).
			WithSuggestion("wait for the other agentmem command to finish")
	}
	return &DataDir{Root: root, lock: lk}, nil
}

// CatalogPath is the SQLite database holding memories.
func (d *DataDir) CatalogPath() string { return filepath.Join(d.Root, "memories.db") }

// FeedbackPath is the SQLite database holding learning feedback.
func (d *DataDir) FeedbackPath() string { return filepath.Join(d.Root, "feedback.db") }

// MetricsPath is the SQLite database holding daily search metrics.
func (d *DataDir) MetricsPath() string { return filepath.Join(d.Root, "metrics.db") }

// VectorPath is the exported HNSW graph.
func (d *DataDir) VectorPath() string { return filepath.Join(d.Root, "vectors.hnsw") }

// BM25Path returns the lexical index location for backend ("" for memory).
func (d *DataDir) BM25Path(backend BM25Backend) string {
	switch backend {
	case BM25BackendSQLite:
		return filepath.Join(d.Root, "bm25.db")
	case BM25BackendBleve:
		return filepath.Join(d.Root, "bm25.bleve")
	default:
		return ""
	}
}

// Close releases the directory lock.
func (d *DataDir) Close() error {
	if d == nil || d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

// NewBM25Index creates the lexical index for backend at path. An empty path
// gives an in-memory index for the persistent backends.
func NewBM25Index(backend BM25Backend, path string, cfg BM25Config) (BM25Index, error) {
	switch backend {
	case BM25BackendMemory, "":
		return NewBM25Engine(cfg), nil
	case BM25BackendSQLite:
		return NewSQLiteBM25Index(path, cfg)
	case BM25BackendBleve:
		return NewBleveBM25Index(path)
	default:
		return nil, agenterrors.ConfigError(fmt.Sprintf("unknown BM25 backend: %s (valid: memory, sqlite, bleve)", backend), nil)
	}
}
