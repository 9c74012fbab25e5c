package httpapi

import (
	"net/http"
	"strings"
	"time"

	"beanledger.org/internal/ledger"
)

type upsertRateRequest struct {
	Date   string `json:"date"`
	From   string `json:"from_currency"`
	To     string `json:"to_currency"`
	Rate   string `json:"rate"`
	Source string `json:"source"`
}

func (a *API) handleRatesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.upsertRate(w, r)
	case http.MethodGet:
		a.listRates(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRateResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/rates/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if path == "lookup" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.lookupRate(w, r)
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	deleted, err := a.ledger.DeleteRate(r.Context(), path)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "rate not found")
		return
	}
	a.audit(r.Context(), "ledger.rate.delete", "exchange_rate", path, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) upsertRate(w http.ResponseWriter, r *http.Request) {
	var req upsertRateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from := normalizeCurrency(req.From)
	to := normalizeCurrency(req.To)
	if from == "" || to == "" {
		writeError(w, r, http.StatusBadRequest, "from_currency and to_currency are required")
		return
	}
	if from == to {
		writeError(w, r, http.StatusBadRequest, "from_currency and to_currency must differ")
		return
	}
	rateValue, err := parseAmount(req.Rate, "rate")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !rateValue.IsPositive() {
		writeError(w, r, http.StatusBadRequest, "rate must be > 0")
		return
	}

	rec, err := a.ledger.UpsertRate(r.Context(), date, from, to, rateValue, strings.TrimSpace(req.Source))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.rate.upsert", "exchange_rate", rec.ID, map[string]string{
		"pair": from + "/" + to,
		"date": rec.Date.Format(ledger.DateLayout),
	})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) listRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rates, err := a.ledger.ListRates(r.Context(), normalizeCurrency(q.Get("from")), normalizeCurrency(q.Get("to")))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rates})
}

func (a *API) lookupRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := normalizeCurrency(q.Get("from"))
	to := normalizeCurrency(q.Get("to"))
	if from == "" || to == "" {
		writeError(w, r, http.StatusBadRequest, "from and to query parameters are required")
		return
	}
	asOf, err := parseDateDefault(q.Get("as_of"), time.Now().UTC(), "as_of")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.ledger.Rate(r.Context(), from, to, asOf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
