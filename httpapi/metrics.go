package httpapi

import "github.com/prometheus/client_golang/prometheus"

// metrics instruments the HTTP surface and the command queue it fronts,
// grounded on the teacher's prometheus wiring (previously instrumenting
// gRPC methods via grpc-ecosystem/go-grpc-prometheus; here it instruments
// plain http.HandlerFuncs instead).
type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basis_tracker",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "basis_tracker",
			Name:      "command_latency_seconds",
			Help:      "Latency of a tracker-core command round trip, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	registry.MustRegister(m.requests, m.latency)
	return m
}
