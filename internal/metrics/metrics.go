// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the API server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobchat_ws_active_connections",
			Help: "Number of active live connections.",
		},
	)
	chatEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_chat_events_total",
			Help: "Total number of chat handshake and messaging events.",
		},
		[]string{"event"},
	)
	jobsAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_jobs_api_calls_total",
			Help: "Total number of calls to the job search API.",
		},
		[]string{"endpoint", "outcome"},
	)
	pushErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_push_errors_total",
			Help: "Total number of failed web push deliveries.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		chatEventsTotal,
		jobsAPICallsTotal,
		pushErrorsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests by the mux pattern they matched.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// IncChatEvent counts a chat event such as "request_sent" or "message_sent".
func IncChatEvent(event string) {
	chatEventsTotal.WithLabelValues(event).Inc()
}

func IncJobsAPICall(endpoint, outcome string) {
	jobsAPICallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func IncPushError() {
	pushErrorsTotal.Inc()
}
