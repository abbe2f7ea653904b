package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory backed by a prometheus registerer.
// Dotted metric names are rewritten to prometheus form under a namespace
// prefix, e.g. "subvault.batch.runs" becomes "subvault_batch_runs".
type PrometheusFactory struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
	gauges     map[string]prometheus.Gauge
}

// NewPrometheusFactory creates a factory registering metrics with reg. A
// nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(reg prometheus.Registerer) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{
		registerer: reg,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
		gauges:     make(map[string]prometheus.Gauge),
	}
}

// Counter implements MetricFactory. Calling it twice with one name returns
// the same counter.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promName(name) + "_total",
		Help: "Count of " + name,
	})
	f.counters[name] = register(f.registerer, c)
	return f.counters[name]
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}
	buckets := prometheus.ExponentialBuckets(1, 10, 12)
	if strings.HasSuffix(name, "_ms") {
		buckets = prometheus.ExponentialBuckets(1, 2, 16)
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    promName(name),
		Help:    "Distribution of " + name,
		Buckets: buckets,
	})
	f.histograms[name] = register(f.registerer, h)
	return f.histograms[name]
}

// Gauge implements MetricFactory.
func (f *PrometheusFactory) Gauge(name string) Gauge {
	f.mu.Lock()
	defer f.mu.Unlock()

	if g, ok := f.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: promName(name),
		Help: "Current value of " + name,
	})
	f.gauges[name] = register(f.registerer, g)
	return f.gauges[name]
}

// register registers c, reusing an identical collector registered earlier
// by another factory on the same registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

var promReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_")

func promName(name string) string {
	return promReplacer.Replace(name)
}
