package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	transactionsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_transactions_recorded_total",
		Help: "Transactions accepted and persisted.",
	})

	transactionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_rejected_total",
			Help: "Transactions rejected before persistence.",
		},
		[]string{"reason"},
	)

	balanceAssertions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_assertions_total",
		Help: "Balance assertions recorded or updated.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		transactionsRecorded, transactionsRejected, balanceAssertions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TransactionRecorded counts an accepted transaction.
func TransactionRecorded() { transactionsRecorded.Inc() }

// TransactionRejected counts a rejected transaction by reason
// ("unbalanced", "multiple_auto", "not_found", "invalid").
func TransactionRejected(reason string) { transactionsRejected.WithLabelValues(reason).Inc() }

// BalanceAsserted counts a recorded or updated balance assertion.
func BalanceAsserted() { balanceAssertions.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality. Unrecognized shapes pass through unchanged.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) >= 3 && segs[0] == "v1" {
		switch segs[1] {
		case "accounts", "transactions", "balances", "rates":
			switch {
			case len(segs) == 3:
				return "/v1/" + segs[1] + "/:id"
			case len(segs) == 4 && segs[1] == "accounts" &&
				(segs[3] == "balance" || segs[3] == "statement" || segs[3] == "close"):
				return "/v1/accounts/:id/" + segs[3]
			}
		}
	}
	return path
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
