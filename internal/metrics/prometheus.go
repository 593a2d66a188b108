package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using
// Prometheus metrics.
type PrometheusCollector struct {
	pipesAttachedTotal *prometheus.CounterVec
	pipesDetachedTotal *prometheus.CounterVec

	messagesSentTotal     *prometheus.CounterVec
	messagesReceivedTotal *prometheus.CounterVec
	messageBytes          *prometheus.HistogramVec

	hwmDropsTotal        *prometheus.CounterVec
	handshakeFailuresTotal prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		pipesAttachedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serverlink_pipes_attached_total",
			Help: "Total number of pipes attached to a socket, by socket type.",
		}, []string{"socket_type"}),
		pipesDetachedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serverlink_pipes_detached_total",
			Help: "Total number of pipes that completed termination, by socket type.",
		}, []string{"socket_type"}),

		messagesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serverlink_messages_sent_total",
			Help: "Total number of application frames sent, by socket type.",
		}, []string{"socket_type"}),
		messagesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serverlink_messages_received_total",
			Help: "Total number of application frames received, by socket type.",
		}, []string{"socket_type"}),
		messageBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serverlink_message_bytes",
			Help:    "Size of frames crossing a socket's send/recv boundary.",
			Buckets: prometheus.ExponentialBuckets(32, 4, 8),
		}, []string{"socket_type", "direction"}),

		hwmDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serverlink_hwm_drops_total",
			Help: "Total number of messages dropped because a pipe's HWM was reached.",
		}, []string{"socket_type"}),
		handshakeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serverlink_handshake_failures_total",
			Help: "Total number of ZMTP greeting/mechanism handshake failures.",
		}),
	}

	reg.MustRegister(
		c.pipesAttachedTotal,
		c.pipesDetachedTotal,
		c.messagesSentTotal,
		c.messagesReceivedTotal,
		c.messageBytes,
		c.hwmDropsTotal,
		c.handshakeFailuresTotal,
	)

	return c
}

// PipeAttached increments the pipes-attached counter for socketType.
func (c *PrometheusCollector) PipeAttached(socketType string) {
	c.pipesAttachedTotal.WithLabelValues(socketType).Inc()
}

// PipeDetached increments the pipes-detached counter for socketType.
func (c *PrometheusCollector) PipeDetached(socketType string) {
	c.pipesDetachedTotal.WithLabelValues(socketType).Inc()
}

// MessageSent increments the sent counter and observes the frame size.
func (c *PrometheusCollector) MessageSent(socketType string, bytes int) {
	c.messagesSentTotal.WithLabelValues(socketType).Inc()
	c.messageBytes.WithLabelValues(socketType, "sent").Observe(float64(bytes))
}

// MessageReceived increments the received counter and observes the frame size.
func (c *PrometheusCollector) MessageReceived(socketType string, bytes int) {
	c.messagesReceivedTotal.WithLabelValues(socketType).Inc()
	c.messageBytes.WithLabelValues(socketType, "received").Observe(float64(bytes))
}

// HWMDrop increments the HWM-drop counter for socketType.
func (c *PrometheusCollector) HWMDrop(socketType string) {
	c.hwmDropsTotal.WithLabelValues(socketType).Inc()
}

// HandshakeFailure increments the handshake-failure counter.
func (c *PrometheusCollector) HandshakeFailure() {
	c.handshakeFailuresTotal.Inc()
}
