package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/agentmem/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanBM25 indicates a BM25 entry without a catalog memory.
	InconsistencyOrphanBM25 InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector without a catalog memory.
	InconsistencyOrphanVector
	// InconsistencyMissingBM25 indicates a memory missing from the BM25 index.
	InconsistencyMissingBM25
	// InconsistencyMissingVector indicates a memory missing from the vector store.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanBM25:
		return "orphan_bm25"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingBM25:
		return "missing_bm25"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// MarshalText lets results print as names in JSON output.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type     InconsistencyType `json:"type"`
	MemoryID string            `json:"memory_id"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of catalog memories verified.
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration"`
}

// MemoryIndexer embeds and stores vectors for memories.
type MemoryIndexer interface {
	IndexMemories(ctx context.Context, memories []*store.Memory) error
}

// RepairOptions controls Repair.
type RepairOptions struct {
	// Semantic re-embeds memories missing from the vector store. Nil
	// leaves them missing.
	Semantic MemoryIndexer

	// SkipBM25 leaves the lexical index untouched.
	SkipBM25 bool

	// BatchSize bounds how many memories are reindexed per call (default 256).
	BatchSize int
}

// ConsistencyChecker compares the derived indexes against the catalog,
// which is the source of truth.
type ConsistencyChecker struct {
	catalog store.Catalog
	bm25    store.BM25Index
	vector  store.VectorStore
}

// NewConsistencyChecker creates a new checker with the given stores.
func NewConsistencyChecker(catalog store.Catalog, bm25 store.BM25Index, vector store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{
		catalog: catalog,
		bm25:    bm25,
		vector:  vector,
	}
}

// Check scans all stores for inconsistencies. O(n) in the number of entries.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	memories, err := c.catalog.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(memories))
	for _, m := range memories {
		known[m.ID] = true
	}

	bm25IDs, err := c.bm25.AllIDs()
	if err != nil {
		return nil, err
	}
	vectorIDs := c.vector.AllIDs()

	var issues []Inconsistency
	bm25Set := make(map[string]bool, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = true
		if !known[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanBM25, MemoryID: id})
		}
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
		if !known[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, MemoryID: id})
		}
	}

	// Catalog order keeps the report stable.
	for _, m := range memories {
		if !bm25Set[m.ID] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingBM25, MemoryID: m.ID})
		}
		if !vectorSet[m.ID] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, MemoryID: m.ID})
		}
	}

	return &CheckResult{
		Checked:         len(memories),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphans and reindexes missing memories from the catalog.
// Orphan deletion is best-effort; reindex failures are returned.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency, opts RepairOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}

	var orphanBM25, orphanVector, missingBM25, missingVector []string
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanBM25:
			orphanBM25 = append(orphanBM25, issue.MemoryID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.MemoryID)
		case InconsistencyMissingBM25:
			missingBM25 = append(missingBM25, issue.MemoryID)
		case InconsistencyMissingVector:
			missingVector = append(missingVector, issue.MemoryID)
		}
	}

	if len(orphanBM25) > 0 && !opts.SkipBM25 {
		if err := c.bm25.Delete(ctx, orphanBM25); err != nil {
			slog.Warn("failed to delete orphan BM25 entries",
				slog.Int("count", len(orphanBM25)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan BM25 entries", slog.Int("count", len(orphanBM25)))
		}
	}
	if len(orphanVector) > 0 {
		if err := c.vector.Delete(ctx, orphanVector); err != nil {
			slog.Warn("failed to delete orphan vector entries",
				slog.Int("count", len(orphanVector)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan vector entries", slog.Int("count", len(orphanVector)))
		}
	}

	if len(missingBM25) > 0 && !opts.SkipBM25 {
		err := c.forEachBatch(ctx, missingBM25, opts.BatchSize, func(batch []*store.Memory) error {
			return c.bm25.Index(ctx, documents(batch))
		})
		if err != nil {
			return err
		}
		slog.Info("reindexed memories missing from BM25", slog.Int("count", len(missingBM25)))
	}

	if len(missingVector) > 0 {
		if opts.Semantic == nil {
			slog.Warn("memories missing from the vector store were not re-embedded",
				slog.Int("count", len(missingVector)))
			return nil
		}
		err := c.forEachBatch(ctx, missingVector, opts.BatchSize, func(batch []*store.Memory) error {
			return opts.Semantic.IndexMemories(ctx, batch)
		})
		if err != nil {
			return err
		}
		slog.Info("re-embedded memories missing from the vector store", slog.Int("count", len(missingVector)))
	}
	return nil
}

// forEachBatch loads ids from the catalog in batches. IDs deleted since the
// check are skipped.
func (c *ConsistencyChecker) forEachBatch(ctx context.Context, ids []string, size int, fn func([]*store.Memory) error) error {
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		found, err := c.catalog.GetMany(ctx, ids[start:end])
		if err != nil {
			return err
		}
		batch := make([]*store.Memory, 0, len(found))
		for _, id := range ids[start:end] {
			if m, ok := found[id]; ok {
				batch = append(batch, m)
			}
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// QuickCheck only compares counts across stores. Returns true if they match.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	catalogCount, err := c.catalog.Count(ctx)
	if err != nil {
		return false, err
	}

	bm25Count := 0
	if stats := c.bm25.Stats(); stats != nil {
		bm25Count = stats.DocumentCount
	}
	vectorCount := c.vector.Count()

	consistent := catalogCount == bm25Count && catalogCount == vectorCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("catalog", catalogCount),
			slog.Int("bm25", bm25Count),
			slog.Int("vector", vectorCount))
	}
	return consistent, nil
}
