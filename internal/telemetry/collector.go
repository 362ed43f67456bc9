// Package telemetry aggregates search metrics for tuning and export.
// All data stays local unless a Prometheus exporter is attached and scraped.
package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Aman-CERP/agentmem/internal/search"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// =============================================================================
// Snapshot
// =============================================================================

// SourceSnapshot summarizes one retrieval source.
type SourceSnapshot struct {
	Queries      int64   `json:"queries"`
	Degraded     int64   `json:"degraded"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	AvgResults   float64 `json:"avg_results"`
}

// Snapshot is an immutable copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                      `json:"total_queries"`
	AvgLatencyMs        float64                    `json:"avg_latency_ms"`
	P99LatencyMs        float64                    `json:"p99_latency_ms"`
	QueriesByType       map[search.QueryType]int64 `json:"queries_by_type"`
	LatencyDistribution map[LatencyBucket]int64    `json:"latency_distribution"`
	Sources             map[string]SourceSnapshot  `json:"sources"`
	CacheHits           int64                      `json:"cache_hits"`
	Since               time.Time                  `json:"since"`
}

// CacheHitRate returns the share of queries served from the result cache.
func (s Snapshot) CacheHitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalQueries)
}

// =============================================================================
// Collector
// =============================================================================

// Config configures a Collector.
type Config struct {
	LatencyWindow int           `yaml:"latency_window" json:"latency_window"` // latencies kept for percentiles (default: 1000)
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"` // how often to flush to the store (0 = no auto-flush)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LatencyWindow: 1000,
		FlushInterval: time.Minute,
	}
}

type sourceTotals struct {
	queries   int64
	degraded  int64
	results   int64
	latencyMs float64
}

// Collector aggregates the stats of completed searches. It implements
// search.MetricsRecorder and is safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	latencies      *CircularBuffer[float64]
	total          int64
	totalLatencyMs float64
	cacheHits      int64
	sources        map[string]*sourceTotals
	all            DailyCounts
	pending        DailyCounts // since the last flush
	since          time.Time

	sink     MetricsStore
	exporter *PrometheusExporter
	config   Config
	now      func() time.Time

	flushTicker *time.Ticker
	stopCh      chan struct{}
	done        sync.WaitGroup
	closed      bool
}

var _ search.MetricsRecorder = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithStore persists daily aggregates to s.
func WithStore(s MetricsStore) Option {
	return func(c *Collector) {
		c.sink = s
	}
}

// WithExporter forwards every recorded search to p.
func WithExporter(p *PrometheusExporter) Option {
	return func(c *Collector) {
		c.exporter = p
	}
}

// NewCollector creates a collector. Auto-flush runs only when a store is
// attached and cfg.FlushInterval is positive.
func NewCollector(cfg Config, opts ...Option) *Collector {
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultConfig().LatencyWindow
	}

	c := &Collector{
		latencies: NewCircularBuffer[float64](cfg.LatencyWindow),
		sources:   make(map[string]*sourceTotals),
		all:       newDailyCounts(),
		pending:   newDailyCounts(),
		since:     time.Now(),
		config:    cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.FlushInterval > 0 && c.sink != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		c.done.Add(1)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	defer c.done.Done()
	for {
		select {
		case <-c.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Flush(ctx); err != nil {
				slog.Warn("failed to flush search metrics", slog.String("error", err.Error()))
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

// Record captures the stats of one search. It never blocks on I/O.
func (c *Collector) Record(queryType search.QueryType, stats search.SearchStats) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.total++
	c.totalLatencyMs += stats.TotalTimeMs
	c.latencies.Add(stats.TotalTimeMs)
	if stats.CacheHit {
		c.cacheHits++
	}

	bucket := LatencyToBucket(msToDuration(stats.TotalTimeMs))
	for _, d := range []*DailyCounts{&c.all, &c.pending} {
		d.QueryTypes[queryType]++
		d.Latency[bucket]++
	}

	if !stats.CacheHit {
		for _, u := range sourceUsage(stats) {
			t := c.sources[u.source]
			if t == nil {
				t = &sourceTotals{}
				c.sources[u.source] = t
			}
			t.queries++
			t.results += int64(u.results)
			t.latencyMs += u.latencyMs
			if u.degraded {
				t.degraded++
			}
			for _, d := range []*DailyCounts{&c.all, &c.pending} {
				sc := d.Sources[u.source]
				sc.Queries++
				if u.degraded {
					sc.Degraded++
				}
				d.Sources[u.source] = sc
			}
		}
	}
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.ObserveSearch(queryType, stats)
	}
}

// usage is one source's share of a search.
type usage struct {
	source    string
	results   int
	latencyMs float64
	degraded  bool
}

// sourceUsage lists the sources that ran during a search. A source counts
// as run when it took time, returned results or was degraded.
func sourceUsage(stats search.SearchStats) []usage {
	all := []usage{
		{source: search.SourceExact, results: stats.ExactResultsCount, latencyMs: stats.ExactMatchTimeMs},
		{source: search.SourceBM25, results: stats.BM25ResultsCount, latencyMs: stats.BM25SearchTimeMs},
		{source: search.SourceVector, results: stats.VectorResultsCount, latencyMs: stats.VectorSearchTimeMs},
	}
	out := all[:0]
	for _, u := range all {
		u.degraded = slices.Contains(stats.DegradedSources, u.source)
		if u.latencyMs > 0 || u.results > 0 || u.degraded {
			out = append(out, u)
		}
	}
	return out
}

// Metrics returns a snapshot of everything recorded since construction.
// P99LatencyMs covers only the latency window.
func (c *Collector) Metrics() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		TotalQueries:        c.total,
		QueriesByType:       make(map[search.QueryType]int64, len(c.all.QueryTypes)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(c.all.Latency)),
		Sources:             make(map[string]SourceSnapshot, len(c.sources)),
		CacheHits:           c.cacheHits,
		Since:               c.since,
	}
	for k, v := range c.all.QueryTypes {
		snap.QueriesByType[k] = v
	}
	for k, v := range c.all.Latency {
		snap.LatencyDistribution[k] = v
	}
	for name, t := range c.sources {
		s := SourceSnapshot{Queries: t.queries, Degraded: t.degraded}
		if t.queries > 0 {
			s.AvgLatencyMs = t.latencyMs / float64(t.queries)
			s.AvgResults = float64(t.results) / float64(t.queries)
		}
		snap.Sources[name] = s
	}

	if c.total > 0 {
		snap.AvgLatencyMs = c.totalLatencyMs / float64(c.total)
	}
	if window := c.latencies.Items(); len(window) > 0 {
		slices.Sort(window)
		snap.P99LatencyMs = stat.Quantile(0.99, stat.Empirical, window, nil)
	}
	return snap
}

// Flush writes the counts recorded since the previous flush to the store.
// Safe to call when no store is configured. On failure the counts are kept
// for the next flush.
func (c *Collector) Flush(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = newDailyCounts()
	c.mu.Unlock()

	if pending.empty() {
		return nil
	}
	if err := c.sink.Save(ctx, c.now().Format(dateLayout), pending); err != nil {
		c.mu.Lock()
		c.pending.merge(pending)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close stops auto-flush, flushes once more, and ignores later records.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
		c.done.Wait()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Flush(ctx)
}
