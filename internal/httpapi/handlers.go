package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"beanledger.org/api/spec"
	"beanledger.org/internal/audit"
	"beanledger.org/internal/ledger"
	"beanledger.org/internal/obs"
	"beanledger.org/internal/report"
	"beanledger.org/internal/stream"
)

// ReadyProbe reports readiness; with a DB configured it pings it.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the ledger engine.
type API struct {
	mux        *http.ServeMux
	ledger     ledger.Service
	reports    *report.Reporter
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string

	rateBurst     int
	ratePerSecond int
	maxBodyBytes  int64
}

// Option configures API.
type Option func(*API)

// WithStream enables the SSE entry feed.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithRateLimit overrides the per-IP token bucket defaults.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSecond = perSecond
	}
}

func New(svc ledger.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		ledger:        svc,
		reports:       report.NewReporter(svc),
		readyProbe:    rp,
		version:       version,
		rateBurst:     50,
		ratePerSecond: 25,
		maxBodyBytes:  1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/transactions", a.handleTransactionsCollection)
	a.mux.HandleFunc("/v1/transactions/", a.handleTransactionResource)
	a.mux.HandleFunc("/v1/balances", a.handleBalancesCollection)
	a.mux.HandleFunc("/v1/balances/", a.handleBalanceResource)
	a.mux.HandleFunc("/v1/rates", a.handleRatesCollection)
	a.mux.HandleFunc("/v1/rates/", a.handleRateResource)
	a.mux.HandleFunc("/v1/reports/networth", a.handleNetWorth)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the mux wrapped with the full middleware chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "beanledger-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "beanledger-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) audit(ctx context.Context, event, entityType, entityID string, meta map[string]string) {
	fields := map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
