package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// ErrNotFound is returned by Catalog.Get for an unknown ID.
var ErrNotFound = errors.New("memory not found")

// SQLiteCatalog is the Catalog backed by SQLite. It is the source of truth
// for memory content and metadata; the lexical and vector indexes only hold IDs.
type SQLiteCatalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens or creates a catalog at path ("" for in-memory).
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	c := &SQLiteCatalog{db: db, path: path}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to initialize catalog schema", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		importance REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);`)
	return err
}

// Put inserts or updates memories. CreatedAt of an existing memory is kept.
func (c *SQLiteCatalog) Put(ctx context.Context, memories []*Memory) error {
	if len(memories) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	now := time.Now()
	return WithRetry(ctx, "put memories", func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO memories (id, content, metadata, importance, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				metadata = excluded.metadata,
				importance = excluded.importance,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range memories {
			meta, err := json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", m.ID, err)
			}
			if m.Metadata == nil {
				meta = []byte("{}")
			}
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, m.ID, m.Content, string(meta), m.Importance,
				created.UnixMilli(), now.UnixMilli()); err != nil {
				return fmt.Errorf("put %s: %w", m.ID, err)
			}
		}
		return tx.Commit()
	})
}

const memoryColumns = `id, content, metadata, importance, created_at, updated_at`

func scanMemory(row interface{ Scan(...any) error }) (*Memory, error) {
	var (
		m                Memory
		meta             string
		created, updated int64
	)
	if err := row.Scan(&m.ID, &m.Content, &meta, &m.Importance, &created, &updated); err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
	}
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return &m, nil
}

// Get returns one memory or ErrNotFound.
func (c *SQLiteCatalog) Get(ctx context.Context, id string) (*Memory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	m, err := scanMemory(c.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetMany returns the memories that exist, keyed by ID.
func (c *SQLiteCatalog) GetMany(ctx context.Context, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// List returns up to limit memories in insertion order (limit <= 0: all).
func (c *SQLiteCatalog) List(ctx context.Context, limit int) ([]*Memory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := c.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes memories by ID.
func (c *SQLiteCatalog) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return WithRetry(ctx, "delete memories", func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+placeholders(len(ids))+`)`, args...)
		return err
	})
}

// Count returns the number of stored memories.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, fmt.Errorf("catalog is closed")
	}

	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
