// Package index keeps the memory catalog, the lexical index and the vector
// store in step, and serves adaptive hybrid searches over them.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/agentmem/internal/config"
	"github.com/Aman-CERP/agentmem/internal/embed"
	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/learning"
	"github.com/Aman-CERP/agentmem/internal/search"
	"github.com/Aman-CERP/agentmem/internal/store"
	"github.com/Aman-CERP/agentmem/internal/telemetry"
)

// ErrReadOnly is returned by write operations on a read-only service.
var ErrReadOnly = agenterrors.New(agenterrors.ErrCodeReadOnly, "memory store was opened read-only", nil)

// Options configures Open.
type Options struct {
	// ReadOnly takes a shared lock and never writes indexes back.
	ReadOnly bool

	// Exporter receives search and feedback metrics when set.
	Exporter *telemetry.PrometheusExporter

	// Now overrides the clock used for new memories and reranking.
	Now func() time.Time
}

// Service is an open memory store with its search engine.
type Service struct {
	cfg      *config.Config
	dir      *store.DataDir
	readOnly bool
	now      func() time.Time

	catalog  *store.SQLiteCatalog
	bm25     store.BM25Index
	vectors  *store.HNSWStore
	embedder embed.Embedder
	semantic *search.SemanticSearcher

	engine   *search.Engine
	learner  *learning.Engine
	router   *learning.Router
	feedback *learning.SQLiteFeedbackStore

	collector *telemetry.Collector
	metrics   *telemetry.SQLiteMetricsStore
	exporter  *telemetry.PrometheusExporter

	mu     sync.Mutex // serializes writes
	closed bool
	dirty  bool // vectors changed since open
}

// Open locks cfg.Storage.DataDir and opens every store in it. Indexes that
// disagree with the catalog are repaired before Open returns.
func Open(ctx context.Context, cfg *config.Config, opts Options) (svc *Service, err error) {
	if cfg == nil {
		return nil, agenterrors.ConfigError("config is required", nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dir, err := store.OpenDataDir(ctx, cfg.Storage.DataDir, opts.ReadOnly, cfg.Storage.LockWait)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		dir:      dir,
		readOnly: opts.ReadOnly,
		now:      now,
		exporter: opts.Exporter,
	}
	defer func() {
		if err != nil {
			_ = s.closeStores()
		}
	}()

	if s.catalog, err = store.NewSQLiteCatalog(dir.CatalogPath()); err != nil {
		return nil, err
	}
	backend := cfg.Storage.BM25Backend
	if s.bm25, err = store.NewBM25Index(backend, dir.BM25Path(backend), cfg.BM25); err != nil {
		return nil, err
	}
	if s.embedder, err = embed.New(cfg.Embeddings); err != nil {
		return nil, agenterrors.ConfigError("invalid embeddings configuration", err)
	}
	if s.vectors, err = store.NewHNSWStore(cfg.VectorStoreConfig(s.embedder.Dimensions())); err != nil {
		return nil, err
	}
	if err := s.loadVectors(); err != nil {
		return nil, err
	}
	s.semantic = search.NewSemanticSearcher(s.embedder, s.vectors, s.catalog)

	if err := s.openLearning(ctx); err != nil {
		return nil, err
	}
	if err := s.openTelemetry(); err != nil {
		return nil, err
	}
	if s.engine, err = s.newEngine(); err != nil {
		return nil, err
	}

	if err := s.reconcile(ctx, backend); err != nil {
		return nil, err
	}

	slog.Debug("memory store opened",
		slog.String("data_dir", dir.Root),
		slog.String("bm25_backend", string(backend)),
		slog.Bool("read_only", opts.ReadOnly),
		slog.Int("vectors", s.vectors.Count()))
	return s, nil
}

func (s *Service) loadVectors() error {
	path := s.dir.VectorPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := s.vectors.Load(path); err != nil {
		// The graph is derived data; rebuild it from the catalog.
		slog.Warn("failed to load vector index, rebuilding",
			slog.String("path", path),
			slog.String("error", err.Error()))
		fresh, ferr := store.NewHNSWStore(s.cfg.VectorStoreConfig(s.embedder.Dimensions()))
		if ferr != nil {
			return ferr
		}
		s.vectors = fresh
	}
	return nil
}

func (s *Service) openLearning(ctx context.Context) error {
	fb, err := learning.NewSQLiteFeedbackStore(s.dir.FeedbackPath())
	if err != nil {
		return err
	}
	s.feedback = fb

	learner, err := learning.New(s.cfg.Learning, learning.WithFeedbackStore(fb), learning.WithClock(s.now))
	if err != nil {
		return err
	}
	if err := learner.Load(ctx); err != nil {
		return err
	}
	s.learner = learner

	router, err := learning.NewRouter(s.cfg.Learning.Router, learning.WithRouterClock(s.now))
	if err != nil {
		return err
	}
	if err := router.Load(ctx, fb, s.cfg.Learning.MaxHistorySize*len(learning.AllPatterns())); err != nil {
		return err
	}
	s.router = router
	return nil
}

// advisor returns the learner configured to supply search weights.
func (s *Service) advisor() search.WeightAdvisor {
	if s.cfg.Learning.Advisor == learning.AdvisorRouter {
		return s.router
	}
	return s.learner
}

func (s *Service) openTelemetry() error {
	var opts []telemetry.Option
	if s.cfg.Metrics.Persist && !s.readOnly {
		ms, err := telemetry.NewSQLiteMetricsStore(s.dir.MetricsPath())
		if err != nil {
			return err
		}
		s.metrics = ms
		opts = append(opts, telemetry.WithStore(ms))
	}
	if s.exporter != nil {
		opts = append(opts, telemetry.WithExporter(s.exporter))
	}
	s.collector = telemetry.NewCollector(s.cfg.Metrics.Config, opts...)
	return nil
}

func (s *Service) newEngine() (*search.Engine, error) {
	opts := []search.EngineOption{
		search.WithExactMatcher(search.NewGuardedExactMatcher(search.NewCatalogMatcher(s.catalog))),
		search.WithBM25Searcher(search.NewGuardedBM25Searcher(s.lexical())),
		search.WithVectorSearcher(search.NewGuardedVectorSearcher(s.semantic)),
		search.WithClassifier(search.NewClassifier(s.cfg.ClassifierConfig())),
		search.WithThresholdCalculator(search.NewThresholdCalculator(s.cfg.Threshold)),
		search.WithWeightPredictor(search.NewWeightPredictor(s.cfg.Predictor)),
		search.WithWeightAdvisor(s.advisor()),
		search.WithMetrics(s.collector),
	}
	if s.cfg.Rerank.Enabled {
		opts = append(opts, search.WithReranker(search.NewSignalReranker(s.cfg.Rerank, s.now)))
	}
	return search.NewEngine(s.cfg.Search, opts...)
}

// lexical returns the BM25 path, backed by fuzzy matching over the catalog
// when enabled.
func (s *Service) lexical() search.BM25Searcher {
	var lex search.BM25Searcher = search.NewLexicalSearcher(s.bm25, s.catalog)
	if s.cfg.Fuzzy.Enabled {
		lex = search.NewFallbackSearcher(lex, search.NewFuzzySearcher(s.catalog, s.cfg.Fuzzy))
	}
	return lex
}

// reconcile rebuilds the in-memory BM25 engine and repairs indexes that
// drifted from the catalog, e.g. after a crash between writes.
func (s *Service) reconcile(ctx context.Context, backend store.BM25Backend) error {
	if backend == store.BM25BackendMemory {
		memories, err := s.catalog.List(ctx, 0)
		if err != nil {
			return err
		}
		if err := s.bm25.Index(ctx, documents(memories)); err != nil {
			return err
		}
	}

	checker := NewConsistencyChecker(s.catalog, s.bm25, s.vectors)
	ok, err := checker.QuickCheck(ctx)
	if err != nil || ok {
		return err
	}
	result, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	if len(result.Inconsistencies) == 0 {
		return nil
	}
	s.dirty = true
	// Persistent lexical indexes are only rewritten under the writer lock.
	return checker.Repair(ctx, result.Inconsistencies, RepairOptions{
		Semantic:  s.semantic,
		SkipBM25:  s.readOnly && backend != store.BM25BackendMemory,
		BatchSize: repairBatchSize,
	})
}

const repairBatchSize = 256

// =============================================================================
// Writes
// =============================================================================

// Add stores memories and indexes them. Missing IDs get a UUID and missing
// timestamps the current time. Existing IDs are replaced.
func (s *Service) Add(ctx context.Context, memories []*store.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	now := s.now()
	for i, m := range memories {
		if m == nil {
			return agenterrors.ValidationError(fmt.Sprintf("memory %d is nil", i), nil)
		}
		if strings.TrimSpace(m.Content) == "" {
			return agenterrors.ValidationError(fmt.Sprintf("memory %d has no content", i), nil)
		}
		if m.Importance < 0 || m.Importance > 1 {
			return agenterrors.ValidationError(fmt.Sprintf("memory %d: importance must be in [0,1], got %v", i, m.Importance), nil)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
	}

	if err := s.catalog.Put(ctx, memories); err != nil {
		return err
	}
	if err := s.bm25.Index(ctx, documents(memories)); err != nil {
		return agenterrors.StorageError("failed to update lexical index", err)
	}
	s.dirty = true
	if err := s.semantic.IndexMemories(ctx, memories); err != nil {
		return err
	}
	s.engine.InvalidateCache()

	slog.Debug("memories added", slog.Int("count", len(memories)))
	return nil
}

// Delete removes memories from every store. Unknown IDs are ignored.
func (s *Service) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if err := s.catalog.Delete(ctx, ids); err != nil {
		return err
	}
	if err := s.bm25.Delete(ctx, ids); err != nil {
		return agenterrors.StorageError("failed to update lexical index", err)
	}
	s.dirty = true
	if err := s.vectors.Delete(ctx, ids); err != nil {
		return agenterrors.StorageError("failed to update vector index", err)
	}
	s.engine.InvalidateCache()
	return nil
}

func (s *Service) writable() error {
	if s.closed {
		return agenterrors.InternalError("memory store is closed", nil)
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

func documents(memories []*store.Memory) []*store.Document {
	docs := make([]*store.Document, len(memories))
	for i, m := range memories {
		docs[i] = &store.Document{ID: m.ID, Content: m.Content}
	}
	return docs
}

// =============================================================================
// Reads
// =============================================================================

// Get returns one memory or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Memory, error) {
	return s.catalog.Get(ctx, id)
}

// List returns up to limit memories in insertion order (limit <= 0: all).
func (s *Service) List(ctx context.Context, limit int) ([]*store.Memory, error) {
	return s.catalog.List(ctx, limit)
}

// Count returns the number of stored memories.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.catalog.Count(ctx)
}

// Search runs an adaptive hybrid search. overrides may be nil.
func (s *Service) Search(ctx context.Context, query string, limit int, overrides *search.SearchQuery) (*search.EnhancedSearchResult, error) {
	return s.engine.Search(ctx, query, limit, overrides)
}

// =============================================================================
// Learning
// =============================================================================

// Feedback records how effective the results for query were, in [0,1].
// The weights credited are the ones the engine picks for query under
// overrides, so pass the same overrides the search ran with.
func (s *Service) Feedback(query string, overrides *search.SearchQuery, effectiveness float64, label string) (learning.QueryPattern, error) {
	if strings.TrimSpace(query) == "" {
		return "", agenterrors.ValidationError("feedback query is empty", nil)
	}
	if effectiveness < 0 || effectiveness > 1 {
		return "", agenterrors.ValidationError(fmt.Sprintf("effectiveness must be in [0,1], got %v", effectiveness), nil)
	}
	s.mu.Lock()
	err := s.writable()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	qt, features, _, weights := s.engine.Plan(query, overrides)
	s.learner.RecordFeedback(features, weights, effectiveness, label)
	s.router.RecordFeedback(features, weights, effectiveness)
	s.engine.Thresholds().RecordFeedback(qt, effectiveness)
	if s.exporter != nil {
		s.exporter.ObserveFeedback()
	}
	return learning.PatternFromFeatures(features), nil
}

// Optimize runs one learning pass and drops cached results, whose weights
// may now be stale.
func (s *Service) Optimize() learning.OptimizationReport {
	report := s.learner.Optimize()
	if len(report.Improvements) > 0 {
		s.engine.InvalidateCache()
	}
	return report
}

// LearningStats returns per-pattern learning state.
func (s *Service) LearningStats() []learning.PatternStats {
	return s.learner.Stats()
}

// =============================================================================
// Metrics
// =============================================================================

// Metrics returns the searches recorded by this process.
func (s *Service) Metrics() telemetry.Snapshot {
	return s.collector.Metrics()
}

// MetricsHistory returns persisted daily counts for dates in [from, to].
func (s *Service) MetricsHistory(ctx context.Context, from, to time.Time) (telemetry.DailyCounts, error) {
	const layout = "2006-01-02"
	if s.metrics != nil {
		if err := s.collector.Flush(ctx); err != nil {
			return telemetry.DailyCounts{}, err
		}
		return s.metrics.Load(ctx, from.Format(layout), to.Format(layout))
	}

	// Read-only opens do not hold the metrics store; open it just to read.
	ms, err := telemetry.NewSQLiteMetricsStore(s.dir.MetricsPath())
	if err != nil {
		return telemetry.DailyCounts{}, err
	}
	defer ms.Close()
	return ms.Load(ctx, from.Format(layout), to.Format(layout))
}

// IndexStats summarizes the stores.
type IndexStats struct {
	Memories     int               `json:"memories"`
	BM25Docs     int               `json:"bm25_docs"`
	Vectors      int               `json:"vectors"`
	BM25Backend  store.BM25Backend `json:"bm25_backend"`
	DataDir      string            `json:"data_dir"`
	Dimensions   int               `json:"dimensions"`
	EmbedModel   string            `json:"embed_model"`
	TotalSamples int64             `json:"learning_samples"`
	DiskBytes    int64             `json:"disk_bytes"`
}

// Stats returns store sizes.
func (s *Service) Stats(ctx context.Context) (IndexStats, error) {
	n, err := s.catalog.Count(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	st := IndexStats{
		Memories:     n,
		Vectors:      s.vectors.Count(),
		BM25Backend:  s.cfg.Storage.BM25Backend,
		DataDir:      s.dir.Root,
		Dimensions:   s.embedder.Dimensions(),
		EmbedModel:   s.embedder.ModelName(),
		TotalSamples: s.learner.TotalSamples(),
	}
	if bs := s.bm25.Stats(); bs != nil {
		st.BM25Docs = bs.DocumentCount
	}
	st.DiskBytes = dirSize(s.dir.Root)
	return st, nil
}

// dirSize sums regular file sizes under root, ignoring unreadable entries.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Check runs a full consistency check without repairing anything.
func (s *Service) Check(ctx context.Context) (*CheckResult, error) {
	return NewConsistencyChecker(s.catalog, s.bm25, s.vectors).Check(ctx)
}

// =============================================================================
// Close
// =============================================================================

// Close flushes metrics, saves the vector index if a writer changed it and
// releases every store and the directory lock.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if !s.readOnly && s.dirty && s.vectors != nil {
		if err := s.vectors.Save(s.dir.VectorPath()); err != nil {
			errs = append(errs, agenterrors.StorageError("failed to save vector index", err))
		}
	}
	errs = append(errs, s.closeStores())
	return errors.Join(errs...)
}

func (s *Service) closeStores() error {
	var errs []error
	if s.collector != nil {
		errs = append(errs, s.collector.Close())
	}
	if s.metrics != nil {
		errs = append(errs, s.metrics.Close())
	}
	if s.feedback != nil {
		errs = append(errs, s.feedback.Close())
	}
	if s.vectors != nil {
		errs = append(errs, s.vectors.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.bm25 != nil {
		errs = append(errs, s.bm25.Close())
	}
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	errs = append(errs, s.dir.Close())
	return errors.Join(errs...)
}
