package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
	"beanledger.org/internal/stream"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	api := New(ledger.NewInMemory(), ReadyProbe{}, "test",
		WithStream(stream.New()),
		WithRateLimit(1000, 1000))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func mustStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func (c *apiClient) createAccount(name string) ledger.Account {
	c.t.Helper()
	resp := c.post("/v1/accounts", map[string]any{
		"name":      name,
		"open_date": "2024-01-01",
	})
	mustStatus(c.t, resp, http.StatusCreated)
	return decode[ledger.Account](c.t, resp)
}

func TestAccountLifecycle(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/accounts", map[string]any{
		"name":      "Assets:Bank:Checking",
		"open_date": "2024-01-01",
		"currency":  "usd",
	})
	mustStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	acc := decode[ledger.Account](t, resp)
	if acc.Type != ledger.Assets || acc.Currency != "USD" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	// Duplicate name conflicts.
	resp = c.post("/v1/accounts", map[string]any{
		"name":      "Assets:Bank:Checking",
		"open_date": "2024-01-01",
	})
	mustStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// get_or_create returns the existing account with 200.
	resp = c.post("/v1/accounts?get_or_create=true", map[string]any{
		"name":      "Assets:Bank:Checking",
		"open_date": "2024-01-01",
	})
	mustStatus(t, resp, http.StatusOK)
	if again := decode[ledger.Account](t, resp); again.ID != acc.ID {
		t.Fatalf("get_or_create returned a different account: %s vs %s", again.ID, acc.ID)
	}

	resp = c.get("/v1/accounts/"+acc.ID, nil)
	mustStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	c.createAccount("Expenses:Food:Groceries")
	c.createAccount("Expenses:FoodTruck")

	resp = c.get("/v1/accounts", url.Values{"prefix": {"Expenses:Food"}})
	mustStatus(t, resp, http.StatusOK)
	listed := decode[struct {
		Items []ledger.Account `json:"items"`
	}](t, resp)
	if len(listed.Items) != 1 || listed.Items[0].Name != "Expenses:Food:Groceries" {
		t.Fatalf("prefix listing should be segment-aware: %+v", listed.Items)
	}

	resp = c.get("/v1/accounts", url.Values{"type": {"Assets"}})
	mustStatus(t, resp, http.StatusOK)
	listed = decode[struct {
		Items []ledger.Account `json:"items"`
	}](t, resp)
	if len(listed.Items) != 1 {
		t.Fatalf("expected 1 asset account, got %d", len(listed.Items))
	}

	resp = c.post("/v1/accounts/"+acc.ID+"/close", map[string]any{"close_date": "2024-12-31"})
	mustStatus(t, resp, http.StatusOK)
	closed := decode[ledger.Account](t, resp)
	if closed.Active || closed.CloseDate == nil {
		t.Fatalf("expected closed account, got %+v", closed)
	}

	resp = c.do(http.MethodDelete, "/v1/accounts/"+acc.ID, nil)
	mustStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/accounts/"+acc.ID, nil)
	mustStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAccountValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/accounts", map[string]any{
		"name":      "Banking:Checking",
		"open_date": "2024-01-01",
	})
	mustStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.post("/v1/accounts", map[string]any{
		"name":      "Assets:Cash",
		"open_date": "01/02/2024",
	})
	mustStatus(t, resp, http.StatusBadRequest)
	body := decode[map[string]any](t, resp)
	if body["request_id"] == "" {
		t.Fatal("expected request_id in error body")
	}
}

func TestTransactionFlow(t *testing.T) {
	c := newTestAPI(t)
	checking := c.createAccount("Assets:Bank:Checking")
	groceries := c.createAccount("Expenses:Food:Groceries")
	salary := c.createAccount("Income:Salary")

	resp := c.post("/v1/transactions", map[string]any{
		"date":      "2024-03-01",
		"narration": "weekly shop",
		"payee":     "Safeway",
		"tags":      []string{"food"},
		"postings": []map[string]any{
			{"account_id": groceries.ID, "amount": "100.00", "currency": "USD"},
			{"account_id": checking.ID, "amount": "-100.00", "currency": "USD"},
		},
	})
	mustStatus(t, resp, http.StatusCreated)
	tx := decode[ledger.Transaction](t, resp)
	if len(tx.Postings) != 2 || tx.Flag != "*" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Postings[0].Account == nil || tx.Postings[0].Account.Name != "Expenses:Food:Groceries" {
		t.Fatal("expected hydrated posting accounts")
	}

	// Auto-balance: the salary leg is filled with -3000.
	resp = c.post("/v1/transactions", map[string]any{
		"date":      "2024-03-02",
		"narration": "march salary",
		"postings": []map[string]any{
			{"account_id": checking.ID, "amount": "3000.00", "currency": "USD"},
			{"account_id": salary.ID, "currency": "USD"},
		},
	})
	mustStatus(t, resp, http.StatusCreated)
	auto := decode[ledger.Transaction](t, resp)
	if !auto.Postings[1].Amount.Equal(dec("-3000.00")) {
		t.Fatalf("auto-balanced amount = %s, want -3000.00", auto.Postings[1].Amount)
	}

	// Unbalanced is rejected with 422 and persists nothing.
	resp = c.post("/v1/transactions", map[string]any{
		"date":      "2024-03-03",
		"narration": "off by ten cents",
		"postings": []map[string]any{
			{"account_id": groceries.ID, "amount": "50.00", "currency": "USD"},
			{"account_id": checking.ID, "amount": "-49.90", "currency": "USD"},
		},
	})
	mustStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	// Unknown posting account maps to 404.
	resp = c.post("/v1/transactions", map[string]any{
		"date":      "2024-03-03",
		"narration": "ghost",
		"postings": []map[string]any{
			{"account_id": "no-such-account", "amount": "10.00", "currency": "USD"},
			{"account_id": checking.ID, "amount": "-10.00", "currency": "USD"},
		},
	})
	mustStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.get("/v1/accounts/"+checking.ID+"/balance", url.Values{
		"currency": {"USD"},
		"as_of":    {"2024-03-31"},
	})
	mustStatus(t, resp, http.StatusOK)
	bal := decode[map[string]any](t, resp)
	if bal["balance"] != "2900" {
		t.Fatalf("balance = %v, want 2900", bal["balance"])
	}

	resp = c.get("/v1/accounts/"+checking.ID+"/statement", url.Values{
		"start": {"2024-03-01"},
		"end":   {"2024-03-31"},
	})
	mustStatus(t, resp, http.StatusOK)
	stmt := decode[struct {
		Entries []ledger.StatementEntry `json:"entries"`
	}](t, resp)
	if len(stmt.Entries) != 2 {
		t.Fatalf("expected 2 statement entries, got %d", len(stmt.Entries))
	}
	if !stmt.Entries[1].Balance.Equal(dec("2900")) {
		t.Fatalf("running balance = %s, want 2900", stmt.Entries[1].Balance)
	}

	resp = c.get("/v1/transactions", url.Values{"q": {"salary"}})
	mustStatus(t, resp, http.StatusOK)
	found := decode[listTransactionsResponse](t, resp)
	if len(found.Items) != 1 || found.Items[0].ID != auto.ID {
		t.Fatalf("search failed: %+v", found.Items)
	}

	dining := c.createAccount("Expenses:Food:Dining")
	resp = c.do(http.MethodPatch, "/v1/transactions/"+tx.ID+"/postings", map[string]any{
		"old_account_id": groceries.ID,
		"new_account_id": dining.ID,
	})
	mustStatus(t, resp, http.StatusOK)
	moved := decode[ledger.Transaction](t, resp)
	if moved.Postings[0].AccountID != dining.ID {
		t.Fatalf("posting not reassigned: %+v", moved.Postings[0])
	}

	resp = c.do(http.MethodDelete, "/v1/transactions/"+tx.ID, nil)
	mustStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.get("/v1/transactions/"+tx.ID, nil)
	mustStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestBalancesRatesAndNetWorth(t *testing.T) {
	c := newTestAPI(t)
	checking := c.createAccount("Assets:Bank:Checking")
	card := c.createAccount("Liabilities:CreditCard")

	resp := c.post("/v1/balances", map[string]any{
		"account_id": checking.ID,
		"date":       "2024-06-01",
		"amount":     "5000.00",
		"currency":   "USD",
	})
	mustStatus(t, resp, http.StatusOK)
	fact := decode[ledger.Balance](t, resp)

	// Same natural key overwrites in place.
	resp = c.post("/v1/balances", map[string]any{
		"account_id": checking.ID,
		"date":       "2024-06-01",
		"amount":     "5200.00",
		"currency":   "USD",
	})
	mustStatus(t, resp, http.StatusOK)
	updated := decode[ledger.Balance](t, resp)
	if updated.ID != fact.ID || !updated.Amount.Equal(dec("5200.00")) {
		t.Fatalf("upsert did not overwrite in place: %+v", updated)
	}

	resp = c.post("/v1/balances", map[string]any{
		"account_id": card.ID,
		"date":       "2024-06-01",
		"amount":     "1200.00",
		"currency":   "USD",
	})
	mustStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/reports/networth", url.Values{"as_of": {"2024-12-31"}})
	mustStatus(t, resp, http.StatusOK)
	nw := decode[struct {
		Summaries []struct {
			Currency string `json:"currency"`
			NetWorth string `json:"net_worth"`
		} `json:"summaries"`
	}](t, resp)
	if len(nw.Summaries) != 1 || nw.Summaries[0].NetWorth != "4000" {
		t.Fatalf("net worth = %+v, want 4000 USD", nw.Summaries)
	}

	resp = c.post("/v1/rates", map[string]any{
		"date":          "2024-06-01",
		"from_currency": "EUR",
		"to_currency":   "USD",
		"rate":          "1.0850",
		"source":        "ecb",
	})
	mustStatus(t, resp, http.StatusOK)
	rate := decode[ledger.ExchangeRate](t, resp)

	resp = c.get("/v1/rates/lookup", url.Values{
		"from":  {"EUR"},
		"to":    {"USD"},
		"as_of": {"2024-07-01"},
	})
	mustStatus(t, resp, http.StatusOK)
	got := decode[ledger.ExchangeRate](t, resp)
	if got.ID != rate.ID || !got.Rate.Equal(dec("1.0850")) {
		t.Fatalf("lookup returned %+v", got)
	}

	resp = c.get("/v1/rates/lookup", url.Values{"from": {"USD"}, "to": {"JPY"}})
	mustStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/balances/"+fact.ID, nil)
	mustStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/rates/"+rate.ID, nil)
	mustStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	mustStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = c.get("/readyz", nil)
	mustStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/openapi.yaml", nil)
	mustStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/no-such-path", nil)
	mustStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
