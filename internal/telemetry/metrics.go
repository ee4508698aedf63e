package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a per-node registry. Nodes in one process (tests, simulations)
// must not share collectors, so nothing here is package-global.
type Metrics struct {
	Registry *prometheus.Registry

	GossipMessagesTotal *prometheus.CounterVec
	GossipRoundsTotal   prometheus.Counter
	GossipSendFailures  prometheus.Counter
	TasksTotal          *prometheus.CounterVec
	ProposalsTotal      *prometheus.CounterVec
	SuspectedActors     prometheus.Counter
	Peers               prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New(nodeName string) *Metrics {
	constLabels := prometheus.Labels{"node": nodeName}

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		GossipMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "gossip_messages_total",
			Help:        "Gossip messages handled, by type and direction.",
			ConstLabels: constLabels,
		}, []string{"type", "direction"}),
		GossipRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "gossip_rounds_total",
			Help:        "Gossip rounds executed.",
			ConstLabels: constLabels,
		}),
		GossipSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "gossip_send_failures_total",
			Help:        "Peer sends that timed out or failed.",
			ConstLabels: constLabels,
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "tasks_total",
			Help:        "Verification tasks by terminal status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		ProposalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "consensus_proposals_total",
			Help:        "Consensus proposals by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		SuspectedActors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "suspected_actors_total",
			Help:        "Byzantine-behavior observations recorded.",
			ConstLabels: constLabels,
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "verimesh",
			Name:        "peers",
			Help:        "Non-failed peers currently known.",
			ConstLabels: constLabels,
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "verimesh",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests.",
			ConstLabels: constLabels,
		}, []string{"op", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "verimesh",
			Name:        "request_duration_seconds",
			Help:        "Latency of HTTP requests.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 13),
			ConstLabels: constLabels,
		}, []string{"op"}),
	}

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "verimesh",
		Name:        "uptime_seconds",
		Help:        "Process uptime in seconds.",
		ConstLabels: constLabels,
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.Registry.MustRegister(
		m.GossipMessagesTotal, m.GossipRoundsTotal, m.GossipSendFailures,
		m.TasksTotal, m.ProposalsTotal, m.SuspectedActors, m.Peers,
		m.RequestsTotal, m.RequestDuration, uptime,
	)
	return m
}

// Handler exposes /metrics for this node's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler to record metrics under the provided "op" label.
func (m *Metrics) Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		m.RequestsTotal.WithLabelValues(op, class).Inc()
		m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
