package wso

import (
	"github.com/RobertWHurst/jamn"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the WebSocket layer's collectors.
type Metrics struct {
	ConnectionsOpen  prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	ProtocolErrors   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jamn",
			Subsystem: "wso",
			Name:      "connections_open",
			Help:      "Upgraded WebSocket connections currently open.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jamn",
			Subsystem: "wso",
			Name:      "messages_received_total",
			Help:      "Logical messages delivered to message processors.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jamn",
			Subsystem: "wso",
			Name:      "messages_sent_total",
			Help:      "Messages sent to WebSocket clients.",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamn",
			Subsystem: "wso",
			Name:      "errors_total",
			Help:      "Errors raised on WebSocket connections, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectionsOpen, m.MessagesReceived, m.MessagesSent, m.ProtocolErrors)
	}
	return m
}

func (m *Metrics) errorRaised(err error) {
	m.ProtocolErrors.WithLabelValues(jamn.KindOf(err).String()).Inc()
}
