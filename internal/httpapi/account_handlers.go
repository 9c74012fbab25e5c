package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"beanledger.org/internal/ledger"
)

type createAccountRequest struct {
	Name        string         `json:"name"`
	OpenDate    string         `json:"open_date"`
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta"`
}

type closeAccountRequest struct {
	CloseDate string `json:"close_date"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAccount(w, r)
	case http.MethodGet:
		a.listAccounts(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, sub, found := strings.Cut(path, "/"); found {
		if id == "" || strings.Contains(sub, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		switch sub {
		case "balance":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.getAccountBalance(w, r, id)
		case "statement":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.getAccountStatement(w, r, id)
		case "close":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.closeAccount(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	case http.MethodDelete:
		a.deleteAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	openDate, err := parseDate(req.OpenDate, "open_date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	params := ledger.CreateAccountParams{
		Name:        strings.TrimSpace(req.Name),
		OpenDate:    openDate,
		Currency:    normalizeCurrency(req.Currency),
		Description: req.Description,
		Meta:        req.Meta,
	}

	// ?get_or_create=true makes creation idempotent on the account name.
	if r.URL.Query().Get("get_or_create") == "true" {
		acc, created, err := a.ledger.GetOrCreateAccount(r.Context(), params)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
			a.audit(r.Context(), "ledger.account.create", "account", acc.ID, map[string]string{"name": acc.Name})
		}
		w.Header().Set("Location", "/v1/accounts/"+acc.ID)
		writeJSON(w, code, acc)
		return
	}

	acc, err := a.ledger.CreateAccount(r.Context(), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.account.create", "account", acc.ID, map[string]string{"name": acc.Name})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if name := strings.TrimSpace(q.Get("name")); name != "" {
		acc, err := a.ledger.GetAccountByName(r.Context(), name)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
		return
	}

	if prefix := strings.TrimSpace(q.Get("prefix")); prefix != "" {
		accounts, err := a.ledger.ListAccountsByPrefix(r.Context(), prefix)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
		return
	}

	var filter ledger.AccountFilter
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		typ, err := ledger.ParseAccountType(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.Type = &typ
	}
	if raw := strings.TrimSpace(q.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.Active = &active
	}

	accounts, err := a.ledger.ListAccounts(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := a.ledger.GetAccount(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getAccountBalance(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	currency := normalizeCurrency(q.Get("currency"))
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	asOf, err := parseDateDefault(q.Get("as_of"), time.Now().UTC(), "as_of")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := a.ledger.AccountBalance(r.Context(), id, asOf, currency)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"currency":   currency,
		"as_of":      ledger.NormalizeDate(asOf).Format(ledger.DateLayout),
		"balance":    balance,
	})
}

func (a *API) getAccountStatement(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("start"), "start")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(q.Get("end"), "end")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, r, http.StatusBadRequest, "end must not precede start")
		return
	}

	entries, err := a.ledger.AccountStatement(r.Context(), id, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"start":      ledger.NormalizeDate(start).Format(ledger.DateLayout),
		"end":        ledger.NormalizeDate(end).Format(ledger.DateLayout),
		"entries":    entries,
	})
}

func (a *API) closeAccount(w http.ResponseWriter, r *http.Request, id string) {
	var req closeAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	closeDate, err := parseDate(req.CloseDate, "close_date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.ledger.CloseAccount(r.Context(), id, closeDate)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.account.close", "account", acc.ID, map[string]string{
		"close_date": req.CloseDate,
	})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := a.ledger.DeleteAccount(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "account not found")
		return
	}
	a.audit(r.Context(), "ledger.account.delete", "account", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
