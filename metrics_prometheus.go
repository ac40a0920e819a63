package mqttclient

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var _ Metrics = (*PrometheusMetrics)(nil)

var metricHelp = map[string]string{
	MetricPacketsSent:     "Total MQTT packets written to the transport, by packet type.",
	MetricPacketsReceived: "Total MQTT packets decoded from the transport, by packet type.",
	MetricConnectAttempts: "Total connect attempts, successful or not.",
	MetricReconnects:      "Total reconnects scheduled after a lost connection or failed attempt.",
	MetricInflight:        "Outbound QoS 1 and QoS 2 publishes awaiting acknowledgment.",
	MetricDelivered:       "Total messages delivered to the application, by QoS.",
	MetricConnectDuration: "Time from dial to accepted CONNACK.",
}

// PrometheusMetrics exports series through a prometheus.Registerer. Vectors
// are created and registered on first use; the label names of a series are
// fixed by the first call that creates it.
type PrometheusMetrics struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates metrics registered with reg, or with
// prometheus.DefaultRegisterer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels MetricLabels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func help(name string) string {
	if h, ok := metricHelp[name]; ok {
		return h
	}
	return name
}

// register adds c to the registry, returning the collector already
// registered under the same descriptor if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
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

// Counter returns the counter for name and labels.
func (p *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = register(p.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help(name),
		}, labelNames(labels)))
		p.counters[name] = vec
	}
	p.mu.Unlock()

	return &promCounter{c: vec.With(prometheus.Labels(labels))}
}

// Gauge returns the gauge for name and labels.
func (p *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = register(p.reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help(name),
		}, labelNames(labels)))
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	return &promGauge{g: vec.With(prometheus.Labels(labels))}
}

// Histogram returns the histogram for name and labels.
func (p *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = register(p.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help(name),
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels)))
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	return &promHistogram{h: vec.With(prometheus.Labels(labels))}
}

func readMetric(m prometheus.Metric) *dto.Metric {
	out := &dto.Metric{}
	if err := m.Write(out); err != nil {
		return &dto.Metric{}
	}
	return out
}

type promCounter struct {
	c prometheus.Counter
}

func (c *promCounter) Inc() { c.c.Inc() }

func (c *promCounter) Add(delta float64) {
	if delta > 0 {
		c.c.Add(delta)
	}
}

func (c *promCounter) Value() float64 { return readMetric(c.c).GetCounter().GetValue() }

type promGauge struct {
	g prometheus.Gauge
}

func (g *promGauge) Set(value float64) { g.g.Set(value) }
func (g *promGauge) Inc()              { g.g.Inc() }
func (g *promGauge) Dec()              { g.g.Dec() }
func (g *promGauge) Add(delta float64) { g.g.Add(delta) }
func (g *promGauge) Sub(delta float64) { g.g.Sub(delta) }
func (g *promGauge) Value() float64    { return readMetric(g.g).GetGauge().GetValue() }

type promHistogram struct {
	h prometheus.Observer
}

func (h *promHistogram) Observe(value float64) { h.h.Observe(value) }

func (h *promHistogram) ObserveDuration(d time.Duration) { h.h.Observe(d.Seconds()) }

func (h *promHistogram) Count() uint64 {
	if m, ok := h.h.(prometheus.Metric); ok {
		return readMetric(m).GetHistogram().GetSampleCount()
	}
	return 0
}

func (h *promHistogram) Sum() float64 {
	if m, ok := h.h.(prometheus.Metric); ok {
		return readMetric(m).GetHistogram().GetSampleSum()
	}
	return 0
}
