package mqttclient

import (
	"strconv"
	"time"
)

// MetricLabels are the label pairs of one series.
type MetricLabels map[string]string

// Metrics hands out series by name and labels. Implementations must return
// the same series for the same name and label set, and must be safe for
// concurrent use.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram records observations. ObserveDuration observes seconds.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything. It is the default when Config.Metrics is nil.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return discard{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return discard{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return discard{} }

// discard satisfies Counter, Gauge and Histogram at once.
type discard struct{}

func (discard) Inc()                          {}
func (discard) Dec()                          {}
func (discard) Set(float64)                   {}
func (discard) Add(float64)                   {}
func (discard) Sub(float64)                   {}
func (discard) Value() float64                { return 0 }
func (discard) Observe(float64)               {}
func (discard) ObserveDuration(time.Duration) {}
func (discard) Count() uint64                 { return 0 }
func (discard) Sum() float64                  { return 0 }

// Metric names recorded by a connection.
const (
	MetricPacketsSent     = "mqtt_client_packets_sent_total"
	MetricPacketsReceived = "mqtt_client_packets_received_total"
	MetricConnectAttempts = "mqtt_client_connect_attempts_total"
	MetricReconnects      = "mqtt_client_reconnects_total"
	MetricInflight        = "mqtt_client_inflight_messages"
	MetricDelivered       = "mqtt_client_messages_delivered_total"
	MetricConnectDuration = "mqtt_client_connect_duration_seconds"
)

// Metric labels.
const (
	LabelPacketType = "type"
	LabelQoS        = "qos"
)

// clientMetrics records the engine series of one connection.
type clientMetrics struct {
	Metrics
}

func newClientMetrics(m Metrics) clientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return clientMetrics{m}
}

func packetLabels(t PacketType) MetricLabels { return MetricLabels{LabelPacketType: t.String()} }

func (c clientMetrics) packetSent(t PacketType) { c.Counter(MetricPacketsSent, packetLabels(t)).Inc() }

func (c clientMetrics) packetReceived(t PacketType) {
	c.Counter(MetricPacketsReceived, packetLabels(t)).Inc()
}

func (c clientMetrics) connectAttempt() { c.Counter(MetricConnectAttempts, nil).Inc() }
func (c clientMetrics) reconnect()      { c.Counter(MetricReconnects, nil).Inc() }
func (c clientMetrics) inflight(n int)  { c.Gauge(MetricInflight, nil).Set(float64(n)) }

func (c clientMetrics) delivered(qos byte) {
	c.Counter(MetricDelivered, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

func (c clientMetrics) connectDuration(d time.Duration) {
	c.Histogram(MetricConnectDuration, nil).ObserveDuration(d)
}
