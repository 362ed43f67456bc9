package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/agentmem/internal/search"
)

// DefaultDurationBuckets are the search latency histogram buckets in seconds.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// PrometheusExporter exposes search and learning metrics on its own registry.
type PrometheusExporter struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	cacheHits      prometheus.Counter
	learningSample prometheus.Counter
}

// NewPrometheusExporter creates an exporter with Go runtime and process
// collectors registered. Nil buckets use DefaultDurationBuckets.
func NewPrometheusExporter(buckets []float64) *PrometheusExporter {
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &PrometheusExporter{
		registry: registry,
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmem_queries_total",
				Help: "Total number of searches by query type",
			},
			[]string{"query_type"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmem_search_duration_seconds",
				Help:    "Search latency in seconds by query type",
				Buckets: buckets,
			},
			[]string{"query_type"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmem_searcher_failures_total",
				Help: "Total number of degraded searcher calls by source",
			},
			[]string{"source"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentmem_cache_hits_total",
			Help: "Total number of searches served from the result cache",
		}),
		learningSample: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentmem_learning_samples_total",
			Help: "Total number of feedback samples recorded",
		}),
	}

	registry.MustRegister(p.queries)
	registry.MustRegister(p.duration)
	registry.MustRegister(p.failures)
	registry.MustRegister(p.cacheHits)
	registry.MustRegister(p.learningSample)
	return p
}

// Registry returns the exporter's registry.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveSearch records one completed search.
func (p *PrometheusExporter) ObserveSearch(queryType search.QueryType, stats search.SearchStats) {
	qt := string(queryType)
	p.queries.WithLabelValues(qt).Inc()
	p.duration.WithLabelValues(qt).Observe(stats.TotalTimeMs / 1000)
	if stats.CacheHit {
		p.cacheHits.Inc()
	}
	for _, source := range stats.DegradedSources {
		p.failures.WithLabelValues(source).Inc()
	}
}

// ObserveFeedback records one feedback sample given to the learning engine.
func (p *PrometheusExporter) ObserveFeedback() {
	p.learningSample.Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics at path on addr until ctx is done.
func (p *PrometheusExporter) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
