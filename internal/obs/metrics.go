package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events appended to the audit log.",
		},
		[]string{"kind", "action", "outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notification attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Bearer tokens minted, by principal kind.",
		},
		[]string{"kind"},
	)

	reportedErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reported_errors_total",
		Help: "Unexpected errors sent to the observability reporter.",
	})

	initOnce sync.Once
)

// knownPaths bounds the cardinality of the path label.
var knownPaths = map[string]struct{}{
	"/":                 {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
	"/v1/register":      {},
	"/v1/login":         {},
	"/v1/me":            {},
	"/v1/refresh":       {},
	"/v1/logout":        {},
	"/v1/admin/login":   {},
	"/v1/admin/me":      {},
	"/v1/admin/refresh": {},
	"/v1/admin/logout":  {},
}

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEventsTotal, notificationsTotal, tokensIssuedTotal, reportedErrors,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath strips the query string and folds unknown paths into one label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "unmatched"
}

// AuthEvent counts one appended audit event.
func AuthEvent(kind, action, outcome string) {
	authEventsTotal.WithLabelValues(kind, action, outcome).Inc()
}

// Notification counts one notification attempt.
func Notification(channel, outcome string) {
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// TokenIssued counts one minted token.
func TokenIssued(kind string) {
	tokensIssuedTotal.WithLabelValues(kind).Inc()
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
