package observability

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	mu    sync.Mutex
	value float64
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name  string
	help  string
	mu    sync.Mutex
	value float64
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	mu      sync.Mutex
	counts  []uint64
	sum     float64
	count   uint64
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram. Nil buckets get the
// default latency buckets.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() { c.Add(1) }

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
}

// ObserveDuration records the elapsed time since start, in seconds.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.writePrometheus(w)
	})
}

func (r *MetricsRegistry) writePrometheus(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		writeHeader(w, c.name, "counter", c.help)
		writeLine(w, c.name, c.Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		writeHeader(w, g.name, "gauge", g.help)
		writeLine(w, g.name, g.Value())
	}
	for _, name := range sortedKeys(r.histos) {
		r.histos[name].write(w)
	}
}

func (h *Histogram) write(w http.ResponseWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader(w, h.name, "histogram", h.help)
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		writeLine(w, h.name+`_bucket{le="`+formatFloat(bound)+`"}`, float64(cumulative))
	}
	writeLine(w, h.name+`_bucket{le="+Inf"}`, float64(h.count))
	writeLine(w, h.name+"_sum", h.sum)
	writeLine(w, h.name+"_count", float64(h.count))
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHeader(w http.ResponseWriter, name, metricType, help string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeLine(w http.ResponseWriter, name string, value float64) {
	w.Write([]byte(name + " " + formatFloat(value) + "\n"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// PastenseMetrics contains the service's metrics.
type PastenseMetrics struct {
	Registry *MetricsRegistry

	// Ingestion
	PagesIngestedTotal *Counter
	IngestDuration     *Histogram
	IngestErrorsTotal  *Counter
	IndexFailuresTotal *Counter // embedding or index upsert failed after metadata commit

	// Embedding
	EmbedRequestsTotal *Counter
	EmbedErrorsTotal   *Counter
	EmbedDuration      *Histogram

	// Search
	SearchesTotal      *Counter
	SearchErrorsTotal  *Counter
	SearchDuration     *Histogram
	DroppedHitsTotal   *Counter // stale or dangling results filtered out

	// Index state
	IndexSize      *Gauge
	UnindexedPages *Gauge
}

// NewPastenseMetrics creates the service metrics on a fresh registry.
func NewPastenseMetrics() *PastenseMetrics {
	r := NewMetricsRegistry()
	return &PastenseMetrics{
		Registry: r,

		PagesIngestedTotal: r.NewCounter("pastense_pages_ingested_total", "Page visits durably stored"),
		IngestDuration:     r.NewHistogram("pastense_ingest_duration_seconds", "Ingestion pipeline duration", nil),
		IngestErrorsTotal:  r.NewCounter("pastense_ingest_errors_total", "Ingestion requests rejected or failed"),
		IndexFailuresTotal: r.NewCounter("pastense_index_failures_total", "Pages stored but not indexed"),

		EmbedRequestsTotal: r.NewCounter("pastense_embed_requests_total", "Embedding API requests"),
		EmbedErrorsTotal:   r.NewCounter("pastense_embed_errors_total", "Embedding API failures"),
		EmbedDuration:      r.NewHistogram("pastense_embed_duration_seconds", "Embedding request duration", nil),

		SearchesTotal:     r.NewCounter("pastense_searches_total", "Semantic search requests"),
		SearchErrorsTotal: r.NewCounter("pastense_search_errors_total", "Semantic searches that failed"),
		SearchDuration:    r.NewHistogram("pastense_search_duration_seconds", "Semantic search duration", nil),
		DroppedHitsTotal:  r.NewCounter("pastense_dropped_hits_total", "Search hits dropped as stale or dangling"),

		IndexSize:      r.NewGauge("pastense_index_size", "Slots in the vector index, stale shadows included"),
		UnindexedPages: r.NewGauge("pastense_unindexed_pages", "Stored pages awaiting indexing"),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *PastenseMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordIngest records one ingestion request outcome.
func (m *PastenseMetrics) RecordIngest(duration time.Duration, stored, indexed bool) {
	m.IngestDuration.Observe(duration.Seconds())
	if !stored {
		m.IngestErrorsTotal.Inc()
		return
	}
	m.PagesIngestedTotal.Inc()
	if !indexed {
		m.IndexFailuresTotal.Inc()
	}
}

// RecordEmbed records one embedding provider call.
func (m *PastenseMetrics) RecordEmbed(duration time.Duration, err error) {
	m.EmbedRequestsTotal.Inc()
	m.EmbedDuration.Observe(duration.Seconds())
	if err != nil {
		m.EmbedErrorsTotal.Inc()
	}
}

// RecordSearch records one semantic search.
func (m *PastenseMetrics) RecordSearch(duration time.Duration, dropped int, err error) {
	m.SearchesTotal.Inc()
	m.SearchDuration.Observe(duration.Seconds())
	m.DroppedHitsTotal.Add(float64(dropped))
	if err != nil {
		m.SearchErrorsTotal.Inc()
	}
}

var (
	globalMetrics *PastenseMetrics
	metricsOnce   sync.Once
)

// Metrics returns the global metrics instance.
func Metrics() *PastenseMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPastenseMetrics()
	})
	return globalMetrics
}
