package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// SQLiteBM25Index implements BM25Index using SQLite FTS5. Content is
// pre-tokenized with TokenizeIdentifiers so all backends agree on terms.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	minLen    int
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens or creates an FTS5 index at path. An empty path
// creates an in-memory index. A corrupt database file is removed first.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	if path != "" {
		if verr := validateSQLiteIntegrity(path, "fts_content"); verr != nil {
			slog.Warn("sqlite_bm25_index_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w", path, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
	}

	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	minLen := config.MinTokenLength
	if minLen <= 0 {
		minLen = DefaultBM25Config().MinTokenLength
	}
	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		minLen:    minLen,
		stopWords: BuildStopWordMap(DefaultStopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteBM25Index) initSchema() error {
	_, err := s.db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS fts_doc_ids (
		doc_id TEXT PRIMARY KEY
	);`)
	return err
}

func (s *SQLiteBM25Index) analyze(text string) []string {
	return FilterStopWords(TokenizeIdentifiers(text, s.minLen), s.stopWords)
}

// Index adds documents. FTS5 has no REPLACE, so existing rows are deleted first.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	return WithRetry(ctx, "index documents", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, doc := range docs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`, doc.ID); err != nil {
				return fmt.Errorf("delete %s: %w", doc.ID, err)
			}
			content := strings.Join(s.analyze(doc.Content), " ")
			if _, err := tx.ExecContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`, doc.ID, content); err != nil {
				return fmt.Errorf("index %s: %w", doc.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO fts_doc_ids(doc_id) VALUES (?)`, doc.ID); err != nil {
				return fmt.Errorf("track %s: %w", doc.ID, err)
			}
		}
		return tx.Commit()
	})
}

// Search matches any query term and ranks with FTS5's bm25().
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	tokens := uniqueTerms(s.analyze(queryStr))
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	// bm25() is negative, lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score, rowid
		LIMIT ?`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*BM25Result, 0, limit)
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if -score <= 0 {
			continue
		}
		results = append(results, &BM25Result{DocID: docID, Score: -score, MatchedTerms: tokens})
	}
	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		args[i] = id
	}
	in := placeholders(len(docIDs))

	return WithRetry(ctx, "delete documents", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM fts_content WHERE doc_id IN ("+in+")", args...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM fts_doc_ids WHERE doc_id IN ("+in+")", args...); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AllIDs returns every indexed document ID.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	rows, err := s.db.Query(`SELECT doc_id FROM fts_doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns the document count. FTS5 does not expose term statistics cheaply.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
