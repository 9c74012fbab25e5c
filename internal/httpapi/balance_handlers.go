package httpapi

import (
	"net/http"
	"strings"
	"time"

	"beanledger.org/internal/ledger"
	"beanledger.org/internal/obs"
)

type upsertBalanceRequest struct {
	AccountID string `json:"account_id"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

func (a *API) handleBalancesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.upsertBalance(w, r)
	case http.MethodGet:
		a.listLatestBalances(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleBalanceResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/balances/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}

	deleted, err := a.ledger.DeleteBalance(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "balance not found")
		return
	}
	a.audit(r.Context(), "ledger.balance.delete", "balance", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) upsertBalance(w http.ResponseWriter, r *http.Request) {
	var req upsertBalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, r, http.StatusBadRequest, "account_id is required")
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	fact, err := a.ledger.UpsertBalance(r.Context(), strings.TrimSpace(req.AccountID), date, amount, normalizeCurrency(req.Currency))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.BalanceAsserted()
	a.audit(r.Context(), "ledger.balance.upsert", "balance", fact.ID, map[string]string{
		"account_id": fact.AccountID,
		"date":       fact.Date.Format(ledger.DateLayout),
		"currency":   fact.Currency,
	})
	writeJSON(w, http.StatusOK, fact)
}

func (a *API) listLatestBalances(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDateDefault(r.URL.Query().Get("as_of"), time.Now().UTC(), "as_of")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	facts, err := a.ledger.LatestBalances(r.Context(), asOf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of": ledger.NormalizeDate(asOf).Format(ledger.DateLayout),
		"items": facts,
	})
}

func (a *API) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	asOf, err := parseDateDefault(r.URL.Query().Get("as_of"), time.Now().UTC(), "as_of")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := a.reports.NetWorth(r.Context(), asOf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":     ledger.NormalizeDate(asOf).Format(ledger.DateLayout),
		"summaries": summaries,
	})
}
