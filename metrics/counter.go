package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a live performance counter created through the
// create_performance_counter action. It pairs a Policy (how successive
// Record calls combine) with the underlying Prometheus collector that
// actually aggregates the values.
type Counter struct {
	name    string
	policy  Policy
	labels  Dimension
	gauge   prometheus.Gauge
	counter prometheus.Counter
	hist    prometheus.Histogram
	summary prometheus.Summary
}

// Record applies a new observation according to the counter's policy.
func (c *Counter) Record(v Value) {
	switch c.policy {
	case PolicySum:
		c.counter.Add(float64(v))
	case PolicyHistogram:
		c.hist.Observe(float64(v))
	case PolicyStopwatch:
		c.summary.Observe(float64(v))
	default:
		// Set, Avg, Max, Min and Mid all reduce to "publish the latest
		// sample"; the aggregation itself happens on the scrape side
		// (Prometheus queries), not inside the process.
		c.gauge.Set(float64(v))
	}
}

// Name returns the counter's registered name.
func (c *Counter) Name() string { return c.name }

// Registry owns every performance counter created for this locality and
// the Prometheus registry they are exported through. One Registry is
// built per server.Server.
type Registry struct {
	mu       sync.Mutex
	reg      *prometheus.Registry
	counters map[string]*Counter
}

// NewRegistry builds an empty counter registry backed by its own
// Prometheus registry, isolated from the global default so tests and
// multiple localities in one process never collide on metric names.
func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*Counter),
	}
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// CreatePerformanceCounter implements the create_performance_counter
// action: it registers (or returns the existing) counter named name
// with the given policy and dimension labels. Calling it twice for the
// same name with a different policy is an error, mirroring the runtime
// rule that a counter's aggregation semantics are fixed at creation.
func (r *Registry) CreatePerformanceCounter(name string, policy Policy, dims Dimension) (*Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.counters[name]; ok {
		if existing.policy != policy {
			return nil, fmt.Errorf("metrics: counter %q already exists with policy %d, cannot recreate with policy %d", name, existing.policy, policy)
		}
		return existing, nil
	}

	labelNames, labelValues := dims.sortedPairs()
	c := &Counter{name: name, policy: policy, labels: dims}

	switch policy {
	case PolicySum:
		c.counter = prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeName(name), Help: name, ConstLabels: toLabels(labelNames, labelValues)})
		if err := r.reg.Register(c.counter); err != nil {
			return nil, fmt.Errorf("metrics: register counter %q: %w", name, err)
		}
	case PolicyHistogram:
		c.hist = prometheus.NewHistogram(prometheus.HistogramOpts{Name: sanitizeName(name), Help: name, ConstLabels: toLabels(labelNames, labelValues)})
		if err := r.reg.Register(c.hist); err != nil {
			return nil, fmt.Errorf("metrics: register histogram %q: %w", name, err)
		}
	case PolicyStopwatch:
		c.summary = prometheus.NewSummary(prometheus.SummaryOpts{Name: sanitizeName(name), Help: name, ConstLabels: toLabels(labelNames, labelValues)})
		if err := r.reg.Register(c.summary); err != nil {
			return nil, fmt.Errorf("metrics: register summary %q: %w", name, err)
		}
	default:
		c.gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeName(name), Help: name, ConstLabels: toLabels(labelNames, labelValues)})
		if err := r.reg.Register(c.gauge); err != nil {
			return nil, fmt.Errorf("metrics: register gauge %q: %w", name, err)
		}
	}

	r.counters[name] = c
	return c, nil
}

// Get looks up a previously created counter.
func (r *Registry) Get(name string) (*Counter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	return c, ok
}

func toLabels(names, values []string) prometheus.Labels {
	if len(names) == 0 {
		return nil
	}
	labels := make(prometheus.Labels, len(names))
	for i, n := range names {
		labels[n] = values[i]
	}
	return labels
}

// sanitizeName rewrites a free-form counter name into a Prometheus
// metric name (letters, digits, underscores). The runtime passes names
// like "net.dispatch.latency"; Prometheus wants "net_dispatch_latency".
func sanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 || (out[0] >= '0' && out[0] <= '9') {
		out = append([]byte{'_'}, out...)
	}
	return string(out)
}
