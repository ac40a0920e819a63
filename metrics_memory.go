package mqttclient

import (
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var _ Metrics = (*MemoryMetrics)(nil)

// MemoryMetrics keeps every series in memory. It is meant for tests and for
// callers that export values themselves.
type MemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// seriesKey renders name{k=v,...} with labels sorted by key.
func seriesKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Counter returns the counter for name and labels, creating it on first use.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = &memoryCounter{}
		m.counters[key] = c
	}
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.gauges[key]
	if !ok {
		g = &memoryGauge{}
		m.gauges[key] = g
	}
	return g
}

// Histogram returns the histogram for name and labels, creating it on first use.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histograms[key]
	if !ok {
		h = &memoryHistogram{}
		m.histograms[key] = h
	}
	return h
}

// CounterValue returns the value of a counter, or 0 if it was never touched.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	c, ok := m.counters[seriesKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return c.Value()
}

// GaugeValue returns the value of a gauge, or 0 if it was never touched.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	g, ok := m.gauges[seriesKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return g.Value()
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.Lock()
	h, ok := m.histograms[seriesKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return h.Count()
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }

type memoryCounter struct {
	value atomicFloat
}

func (c *memoryCounter) Inc() { c.value.add(1) }

// Add ignores negative deltas; counters only go up.
func (c *memoryCounter) Add(delta float64) {
	if delta > 0 {
		c.value.add(delta)
	}
}

func (c *memoryCounter) Value() float64 { return c.value.load() }

type memoryGauge struct {
	value atomicFloat
}

func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Inc()              { g.value.add(1) }
func (g *memoryGauge) Dec()              { g.value.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.value.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *memoryHistogram) Count() uint64                   { return h.count.Load() }
func (h *memoryHistogram) Sum() float64                    { return h.sum.load() }
