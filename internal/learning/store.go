package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/search"
	"github.com/Aman-CERP/agentmem/internal/store"
)

// FeedbackRecord is one persisted feedback sample.
type FeedbackRecord struct {
	ID            string               `json:"id"`
	Pattern       QueryPattern         `json:"pattern"`
	Features      search.QueryFeatures `json:"features"`
	Weights       search.SearchWeights `json:"weights"`
	Effectiveness float64              `json:"effectiveness"`
	Label         string               `json:"label,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// FeedbackStore persists feedback so learning survives restarts.
type FeedbackStore interface {
	// Save stores a record. An empty ID is replaced with a new UUID.
	Save(ctx context.Context, rec FeedbackRecord) error

	// Recent returns up to limit of the newest records, oldest first.
	Recent(ctx context.Context, limit int) ([]FeedbackRecord, error)

	Close() error
}

// SQLiteFeedbackStore implements FeedbackStore using SQLite.
type SQLiteFeedbackStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var _ FeedbackStore = (*SQLiteFeedbackStore)(nil)

// NewSQLiteFeedbackStore opens or creates a feedback database at path
// ("" for in-memory).
func NewSQLiteFeedbackStore(path string) (*SQLiteFeedbackStore, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := initFeedbackSchema(db); err != nil {
		_ = db.Close()
		return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to initialize feedback schema", err)
	}
	return &SQLiteFeedbackStore{db: db}, nil
}

func initFeedbackSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id              TEXT PRIMARY KEY,
		pattern         TEXT NOT NULL,
		features        TEXT NOT NULL,
		vector_weight   REAL NOT NULL,
		fulltext_weight REAL NOT NULL,
		confidence      REAL NOT NULL DEFAULT 0,
		effectiveness   REAL NOT NULL,
		label           TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_pattern ON feedback(pattern);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create feedback schema: %w", err)
	}
	return nil
}

// Save stores rec.
func (s *SQLiteFeedbackStore) Save(ctx context.Context, rec FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("feedback store is closed")
	}

	return store.WithRetry(ctx, "save feedback", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO feedback (id, pattern, features, vector_weight, fulltext_weight, confidence, effectiveness, label, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			rec.ID, string(rec.Pattern), string(features),
			rec.Weights.VectorWeight, rec.Weights.FulltextWeight, rec.Weights.Confidence,
			rec.Effectiveness, rec.Label, rec.CreatedAt.UnixNano())
		return err
	})
}

// Recent returns the newest records, oldest first, so they replay in order.
func (s *SQLiteFeedbackStore) Recent(ctx context.Context, limit int) ([]FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("feedback store is closed")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, features, vector_weight, fulltext_weight, confidence, effectiveness, label, created_at
		FROM feedback
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var (
			rec      FeedbackRecord
			pattern  string
			features string
			created  int64
		)
		if err := rows.Scan(&rec.ID, &pattern, &features,
			&rec.Weights.VectorWeight, &rec.Weights.FulltextWeight, &rec.Weights.Confidence,
			&rec.Effectiveness, &rec.Label, &created); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, agenterrors.New(agenterrors.ErrCodeCorruptIndex, "corrupt feedback features", err).
				WithDetail("id", rec.ID)
		}
		rec.Pattern = QueryPattern(pattern)
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLiteFeedbackStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("feedback store is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteFeedbackStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
