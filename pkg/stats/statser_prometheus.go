package stats

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
)

// PrometheusStatser is a Statser which exposes internal metrics as prometheus
// collectors, registered on first use.  The label names of a metric are fixed
// by the tags of its first observation; tags with other keys are dropped, and
// missing keys are reported as an empty label.
type PrometheusStatser struct {
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
	namespace  string
	tags       nodedispatch.Tags

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	timers   map[string]*prometheus.HistogramVec
	labels   map[string][]string
}

// NewPrometheusStatser creates a new Statser which registers collectors with registerer.
func NewPrometheusStatser(logger logrus.FieldLogger, registerer prometheus.Registerer, namespace string, tags nodedispatch.Tags) Statser {
	return &PrometheusStatser{
		logger:     logger,
		registerer: registerer,
		namespace:  sanitizeName(namespace),
		tags:       tags,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		timers:     map[string]*prometheus.HistogramVec{},
		labels:     map[string][]string{},
	}
}

// Gauge sets a gauge metric
func (ps *PrometheusStatser) Gauge(name string, value float64, tags nodedispatch.Tags) {
	name = sanitizeName(name)
	labels := ps.tags.Concat(tags).ToMap()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	g, ok := ps.gauges[name]
	if !ok {
		names := ps.labelNames(name, labels)
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ps.namespace,
			Name:      name,
			Help:      "Internal gauge " + name,
		}, names)
		g = ps.register(g).(*prometheus.GaugeVec)
		ps.gauges[name] = g
	}
	g.WithLabelValues(ps.labelValues(name, labels)...).Set(value)
}

// Count adds to a counter metric.  Negative amounts are ignored.
func (ps *PrometheusStatser) Count(name string, amount float64, tags nodedispatch.Tags) {
	if amount < 0 {
		ps.logger.WithField("name", name).Debug("ignoring negative count")
		return
	}
	name = sanitizeName(name) + "_total"
	labels := ps.tags.Concat(tags).ToMap()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	c, ok := ps.counters[name]
	if !ok {
		names := ps.labelNames(name, labels)
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ps.namespace,
			Name:      name,
			Help:      "Internal counter " + name,
		}, names)
		c = ps.register(c).(*prometheus.CounterVec)
		ps.counters[name] = c
	}
	c.WithLabelValues(ps.labelValues(name, labels)...).Add(amount)
}

// Increment adds 1 to a counter metric
func (ps *PrometheusStatser) Increment(name string, tags nodedispatch.Tags) {
	ps.Count(name, 1, tags)
}

// TimingDuration observes a duration in seconds
func (ps *PrometheusStatser) TimingDuration(name string, d time.Duration, tags nodedispatch.Tags) {
	name = sanitizeName(name) + "_seconds"
	labels := ps.tags.Concat(tags).ToMap()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	h, ok := ps.timers[name]
	if !ok {
		names := ps.labelNames(name, labels)
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ps.namespace,
			Name:      name,
			Help:      "Internal timer " + name,
			Buckets:   prometheus.DefBuckets,
		}, names)
		h = ps.register(h).(*prometheus.HistogramVec)
		ps.timers[name] = h
	}
	h.WithLabelValues(ps.labelValues(name, labels)...).Observe(d.Seconds())
}

// NewTimer returns a new timer with time set to now
func (ps *PrometheusStatser) NewTimer(name string, tags nodedispatch.Tags) *Timer {
	return newTimer(ps, name, tags)
}

// WithTags creates a new Statser with additional tags
func (ps *PrometheusStatser) WithTags(tags nodedispatch.Tags) Statser {
	return NewTaggedStatser(ps, tags)
}

// register registers c, or returns the collector already registered under the same description.
// Must be called with mu held.
func (ps *PrometheusStatser) register(c prometheus.Collector) prometheus.Collector {
	if err := ps.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		ps.logger.WithError(err).Warn("failed to register internal metric")
	}
	return c
}

// labelNames records and returns the sorted label names for a metric.  Must be called with mu held.
func (ps *PrometheusStatser) labelNames(name string, labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	ps.labels[name] = names
	return names
}

// labelValues returns the label values for a metric in registration order.  Must be called with mu held.
func (ps *PrometheusStatser) labelValues(name string, labels map[string]string) []string {
	names := ps.labels[name]
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return values
}

func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
