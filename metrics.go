package jamn

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the server's collectors. They are always maintained; they
// are only exposed when registered with a registerer.
type Metrics struct {
	ConnectionsAccepted   prometheus.Counter
	ConnectionsActive     prometheus.Gauge
	Requests              *prometheus.CounterVec
	RequestsPerConnection prometheus.Histogram
	Errors                *prometheus.CounterVec
}

// NewMetrics creates the server collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jamn",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jamn",
			Name:      "connections_active",
			Help:      "Connections currently being processed by a worker.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamn",
			Name:      "requests_total",
			Help:      "HTTP requests served, by response status.",
		}, []string{"status"}),
		RequestsPerConnection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jamn",
			Name:      "requests_per_connection",
			Help:      "Requests served on a connection before it closed.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamn",
			Name:      "errors_total",
			Help:      "Errors raised while processing connections, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsAccepted,
			m.ConnectionsActive,
			m.Requests,
			m.RequestsPerConnection,
			m.Errors,
		)
	}
	return m
}

func (m *Metrics) requestServed(status Status) {
	m.Requests.WithLabelValues(strconv.Itoa(int(status))).Inc()
}

func (m *Metrics) errorRaised(err error) {
	m.Errors.WithLabelValues(KindOf(err).String()).Inc()
}

// MetricsProvider returns a content provider serving the metrics gathered by
// g in the Prometheus text exposition format.
func MetricsProvider(g prometheus.Gatherer) ContentProvider {
	return ContentProviderFunc(func(req *Request, res *Response) error {
		families, err := g.Gather()
		if err != nil {
			return err
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		encoder := expfmt.NewEncoder(res, format)
		for _, family := range families {
			if err := encoder.Encode(family); err != nil {
				return err
			}
		}
		res.SetContentType(string(format))
		return nil
	})
}
