package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beanledger.org/internal/ledger"
	"beanledger.org/internal/obs"
	"beanledger.org/internal/stream"
)

type postingRequest struct {
	AccountID     string `json:"account_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CostAmount    string `json:"cost_amount"`
	CostCurrency  string `json:"cost_currency"`
	CostDate      string `json:"cost_date"`
	PriceAmount   string `json:"price_amount"`
	PriceCurrency string `json:"price_currency"`
}

type createTransactionRequest struct {
	Date      string           `json:"date"`
	Narration string           `json:"narration"`
	Payee     string           `json:"payee"`
	Flag      string           `json:"flag"`
	Postings  []postingRequest `json:"postings"`
	Tags      []string         `json:"tags"`
	Links     []string         `json:"links"`
	Meta      map[string]any   `json:"meta"`
}

type reassignPostingRequest struct {
	OldAccountID string `json:"old_account_id"`
	NewAccountID string `json:"new_account_id"`
}

type listTransactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) handleTransactionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTransaction(w, r)
	case http.MethodGet:
		a.listTransactions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransactionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, sub, found := strings.Cut(path, "/"); found {
		if id == "" || sub != "postings" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.reassignPosting(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTransaction(w, r, path)
	case http.MethodDelete:
		a.deleteTransaction(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Narration) == "" {
		writeError(w, r, http.StatusBadRequest, "narration is required")
		return
	}
	if len(req.Postings) < 2 {
		obs.TransactionRejected("invalid")
		writeError(w, r, http.StatusBadRequest, "at least two postings are required")
		return
	}

	postings := make([]ledger.PostingInput, 0, len(req.Postings))
	for _, p := range req.Postings {
		if strings.TrimSpace(p.AccountID) == "" {
			writeError(w, r, http.StatusBadRequest, "postings require an account_id")
			return
		}
		in := ledger.PostingInput{
			AccountID:     strings.TrimSpace(p.AccountID),
			Currency:      normalizeCurrency(p.Currency),
			CostCurrency:  normalizeCurrency(p.CostCurrency),
			PriceCurrency: normalizeCurrency(p.PriceCurrency),
		}
		// An omitted amount marks the auto-balance leg.
		if in.Amount, err = parseOptionalAmount(p.Amount, "amount"); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if in.CostAmount, err = parseOptionalAmount(p.CostAmount, "cost_amount"); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if in.PriceAmount, err = parseOptionalAmount(p.PriceAmount, "price_amount"); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(p.CostDate) != "" {
			d, err := parseDate(p.CostDate, "cost_date")
			if err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			in.CostDate = &d
		}
		postings = append(postings, in)
	}

	tx, err := a.ledger.CreateTransaction(r.Context(), ledger.CreateTransactionParams{
		Date:      date,
		Narration: req.Narration,
		Payee:     req.Payee,
		Flag:      req.Flag,
		Postings:  postings,
		Tags:      req.Tags,
		Links:     req.Links,
		Meta:      req.Meta,
	})
	if err != nil {
		a.countRejection(err)
		handleServiceError(w, r, err)
		return
	}

	obs.TransactionRecorded()
	a.publishEntry(tx)
	a.audit(r.Context(), "ledger.transaction.create", "transaction", tx.ID, map[string]string{
		"date":     tx.Date.Format(ledger.DateLayout),
		"postings": strconv.Itoa(len(tx.Postings)),
	})

	w.Header().Set("Location", "/v1/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if link := strings.TrimSpace(q.Get("link")); link != "" {
		items, err := a.ledger.TransactionsByLink(r.Context(), link)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, AsOf: time.Now().UTC()})
		return
	}

	if q.Get("start") != "" || q.Get("end") != "" {
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
		items, err := a.ledger.TransactionsByDateRange(r.Context(), start, end, strings.TrimSpace(q.Get("account_id")))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, AsOf: time.Now().UTC()})
		return
	}

	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	params := ledger.SearchParams{
		Text:  strings.TrimSpace(q.Get("q")),
		Payee: strings.TrimSpace(q.Get("payee")),
		Tag:   strings.TrimSpace(q.Get("tag")),
		Limit: limit,
	}
	if params.MinAmount, err = parseOptionalAmount(q.Get("min_amount"), "min_amount"); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if params.MaxAmount, err = parseOptionalAmount(q.Get("max_amount"), "max_amount"); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.ledger.SearchTransactions(r.Context(), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request, id string) {
	tx, err := a.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) reassignPosting(w http.ResponseWriter, r *http.Request, id string) {
	var req reassignPostingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	oldID := strings.TrimSpace(req.OldAccountID)
	newID := strings.TrimSpace(req.NewAccountID)
	if oldID == "" || newID == "" {
		writeError(w, r, http.StatusBadRequest, "old_account_id and new_account_id are required")
		return
	}

	tx, err := a.ledger.UpdatePostingAccount(r.Context(), id, oldID, newID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transaction.reassign_posting", "transaction", tx.ID, map[string]string{
		"old_account_id": oldID,
		"new_account_id": newID,
	})
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) deleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := a.ledger.DeleteTransaction(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "transaction not found")
		return
	}
	a.audit(r.Context(), "ledger.transaction.delete", "transaction", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) countRejection(err error) {
	var unbalanced *ledger.UnbalancedError
	switch {
	case errors.As(err, &unbalanced):
		obs.TransactionRejected("unbalanced")
	case errors.Is(err, ledger.ErrMultipleAutoBalance):
		obs.TransactionRejected("multiple_auto")
	case errors.Is(err, ledger.ErrNotFound):
		obs.TransactionRejected("not_found")
	default:
		obs.TransactionRejected("invalid")
	}
}

func (a *API) publishEntry(tx ledger.Transaction) {
	if a.stream == nil {
		return
	}
	views := make([]stream.PostingView, 0, len(tx.Postings))
	for _, p := range tx.Postings {
		name := p.AccountID
		if p.Account != nil {
			name = p.Account.Name
		}
		views = append(views, stream.PostingView{
			Account:  name,
			Amount:   p.Amount,
			Currency: p.Currency,
		})
	}
	a.stream.Publish(stream.EntryEvent{
		TransactionID: tx.ID,
		Date:          tx.Date.Format(ledger.DateLayout),
		Narration:     tx.Narration,
		Payee:         tx.Payee,
		Postings:      views,
		Timestamp:     time.Now().UTC(),
	})
}
