package telemetry

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink allows optional instrumentation without hard dependency.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	ObserveHistogram(name string, value float64, tags map[string]string)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string)                {}
func (Nop) ObserveHistogram(string, float64, map[string]string) {}

// PrometheusSink maps sink calls onto lazily registered Prometheus vectors.
// Metric names use dots as separators ("tasks.created") and are exported as
// namespace_tasks_created. The label set of a metric is fixed by its first
// observation; later calls with a different set are dropped.
type PrometheusSink struct {
	namespace string
	reg       prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusSink registers metrics with reg under namespace.
func NewPrometheusSink(namespace string, reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (s *PrometheusSink) IncCounter(name string, tags map[string]string) {
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      metricName(name),
			Help:      name,
		}, labelNames(tags))
		vec = registerOrExisting(s.reg, vec)
		s.counters[name] = vec
	}
	s.mu.Unlock()
	if c, err := vec.GetMetricWith(prometheus.Labels(tags)); err == nil {
		c.Inc()
	}
}

func (s *PrometheusSink) ObserveHistogram(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	vec, ok := s.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      metricName(name),
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, labelNames(tags))
		vec = registerOrExisting(s.reg, vec)
		s.histograms[name] = vec
	}
	s.mu.Unlock()
	if h, err := vec.GetMetricWith(prometheus.Labels(tags)); err == nil {
		h.Observe(value)
	}
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var _ MetricsSink = (*PrometheusSink)(nil)
var _ MetricsSink = Nop{}
