package provider

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UsageEntry records one provider call's token usage and cost, mirroring
// original_source/src/pal/router.py CostTracker.log_usage's entry shape.
type UsageEntry struct {
	Timestamp        time.Time
	Agent            string
	Provider         string
	Model            string
	InputTokens      int
	OutputTokens     int
	CostUSD          float64
	Unpriced         bool
	DurationMS       int64
}

func (e UsageEntry) totalTokens() int { return e.InputTokens + e.OutputTokens }

// Aggregate accumulates requests/tokens/cost for one agent or provider
// bucket in Summary.
type Aggregate struct {
	Requests int
	Tokens   int
	CostUSD  float64
}

// Summary is the rolled-up view returned by CostTracker.Summary.
type Summary struct {
	TotalRequests int
	TotalTokens   int
	TotalCostUSD  float64
	ByAgent       map[string]Aggregate
	ByProvider    map[string]Aggregate
}

// costMetrics holds the Prometheus instruments the Cost Tracker exports, an
// [ADD] over the original's print-only summary — registered against a
// caller-supplied Registerer via promauto.With(reg), matching the teacher's
// internal/server/metrics.go pattern so unit tests stay hermetic.
type costMetrics struct {
	requestsTotal *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec
	costUSDTotal  *prometheus.CounterVec
	durationSecs  *prometheus.HistogramVec
}

func newCostMetrics(reg prometheus.Registerer) *costMetrics {
	factory := promauto.With(reg)
	return &costMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider generation calls, partitioned by agent and provider.",
		}, []string{"agent", "provider"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "tokens_total",
			Help:      "Total tokens consumed, partitioned by agent, provider, and direction.",
		}, []string{"agent", "provider", "direction"}),
		costUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "cost_usd_total",
			Help:      "Total estimated USD cost, partitioned by agent and provider. Zero for unpriced (local) providers.",
		}, []string{"agent", "provider"}),
		durationSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "provider",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of provider generation calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"agent", "provider"}),
	}
}

// CostTracker accumulates per-call usage in memory and, when constructed
// with a Prometheus registerer, exports running totals as counters/a
// histogram. Grounded on original_source/src/pal/router.py CostTracker.
type CostTracker struct {
	mu      sync.Mutex
	entries []UsageEntry
	metrics *costMetrics
}

// NewCostTracker constructs a CostTracker. Pass a non-nil reg (e.g.
// prometheus.NewRegistry() or prometheus.DefaultRegisterer) to also export
// Prometheus metrics; pass nil to track in-memory only.
func NewCostTracker(reg prometheus.Registerer) *CostTracker {
	ct := &CostTracker{}
	if reg != nil {
		ct.metrics = newCostMetrics(reg)
	}
	return ct
}

// LogUsage records one call's usage and, if metrics are enabled, updates the
// exported Prometheus instruments.
func (ct *CostTracker) LogUsage(entry UsageEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	ct.mu.Lock()
	ct.entries = append(ct.entries, entry)
	ct.mu.Unlock()

	if ct.metrics == nil {
		return
	}
	ct.metrics.requestsTotal.WithLabelValues(entry.Agent, entry.Provider).Inc()
	ct.metrics.tokensTotal.WithLabelValues(entry.Agent, entry.Provider, "input").Add(float64(entry.InputTokens))
	ct.metrics.tokensTotal.WithLabelValues(entry.Agent, entry.Provider, "output").Add(float64(entry.OutputTokens))
	if !entry.Unpriced {
		ct.metrics.costUSDTotal.WithLabelValues(entry.Agent, entry.Provider).Add(entry.CostUSD)
	}
	ct.metrics.durationSecs.WithLabelValues(entry.Agent, entry.Provider).Observe(float64(entry.DurationMS) / 1000.0)
}

// Summary rolls up all recorded usage, mirroring CostTracker.get_summary.
func (ct *CostTracker) Summary() Summary {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	s := Summary{ByAgent: make(map[string]Aggregate), ByProvider: make(map[string]Aggregate)}
	for _, e := range ct.entries {
		s.TotalRequests++
		s.TotalTokens += e.totalTokens()
		s.TotalCostUSD += e.CostUSD

		a := s.ByAgent[e.Agent]
		a.Requests++
		a.Tokens += e.totalTokens()
		a.CostUSD += e.CostUSD
		s.ByAgent[e.Agent] = a

		p := s.ByProvider[e.Provider]
		p.Requests++
		p.Tokens += e.totalTokens()
		p.CostUSD += e.CostUSD
		s.ByProvider[e.Provider] = p
	}
	return s
}
