package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon"

// Metrics owns a private Prometheus registry. Every method is safe to call on
// a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	devicesConnected    prometheus.Gauge
	clientsConnected    prometheus.Gauge
	commandsSent        *prometheus.CounterVec
	commandResolutions  *prometheus.CounterVec
	broadcasts          *prometheus.CounterVec
	broadcastFailures   prometheus.Counter
	livenessEvictions   prometheus.Counter
	locationsPruned     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		devicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Devices currently holding a live connection",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_connected",
			Help:      "Dashboard clients currently subscribed",
		}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands relayed to devices by outcome of the send",
		}, []string{"command", "result"}),
		commandResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_resolutions_total",
			Help:      "Pending commands settled by a confirmation or the deadline",
		}, []string{"status"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events fanned out to dashboard clients",
		}, []string{"event"}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Per-client send failures during fan-out",
		}),
		livenessEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_evictions_total",
			Help:      "Devices evicted after missing heartbeats",
		}),
		locationsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_pruned_total",
			Help:      "Location history rows removed by retention",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.devicesConnected,
		m.clientsConnected,
		m.commandsSent,
		m.commandResolutions,
		m.broadcasts,
		m.broadcastFailures,
		m.livenessEvictions,
		m.locationsPruned,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) SetDevicesConnected(n int) {
	if m == nil {
		return
	}
	m.devicesConnected.Set(float64(n))
}

func (m *Metrics) SetClientsConnected(n int) {
	if m == nil {
		return
	}
	m.clientsConnected.Set(float64(n))
}

// CommandSent counts one relay attempt; result is delivered, polled, failed or offline.
func (m *Metrics) CommandSent(command, result string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(command, result).Inc()
}

func (m *Metrics) CommandResolved(status string) {
	if m == nil {
		return
	}
	m.commandResolutions.WithLabelValues(status).Inc()
}

// Broadcast records one fan-out and the number of clients it failed to reach.
func (m *Metrics) Broadcast(event string, failures int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Inc()
	if failures > 0 {
		m.broadcastFailures.Add(float64(failures))
	}
}

func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.livenessEvictions.Inc()
}

func (m *Metrics) AddLocationsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.locationsPruned.Add(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
