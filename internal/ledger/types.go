package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed wherever a currency code is omitted.
const DefaultCurrency = "USD"

// DateLayout is the wire format for calendar dates. The ledger has no notion
// of time-of-day; every date is normalized to midnight UTC.
const DateLayout = "2006-01-02"

// balanceTolerance is the residual under which a posting set counts as
// netting to zero.
var balanceTolerance = decimal.RequireFromString("0.001")

// AccountType is the top-level category of an account. It is derived from the
// first colon-delimited segment of the account name and never stored
// independently of it.
type AccountType string

const (
	Assets      AccountType = "Assets"
	Liabilities AccountType = "Liabilities"
	Equity      AccountType = "Equity"
	Income      AccountType = "Income"
	Expenses    AccountType = "Expenses"
)

// AccountTypes lists the five canonical types.
var AccountTypes = []AccountType{Assets, Liabilities, Equity, Income, Expenses}

// ParseAccountType validates a raw segment against the closed set of types.
func ParseAccountType(s string) (AccountType, error) {
	for _, t := range AccountTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", &InvalidAccountTypeError{Segment: s}
}

// AccountTypeFromName derives the type from a full hierarchical name such as
// "Assets:Bank:Checking".
func AccountTypeFromName(name string) (AccountType, error) {
	head, _, _ := strings.Cut(name, ":")
	return ParseAccountType(head)
}

// Account is one node of the chart of accounts.
type Account struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        AccountType    `json:"account_type"`
	Currency    string         `json:"currency"`
	OpenDate    time.Time      `json:"open_date"`
	CloseDate   *time.Time     `json:"close_date,omitempty"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"is_active"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ParentName returns the name with the last segment removed, or "" for a
// top-level account.
func (a Account) ParentName() string {
	idx := strings.LastIndex(a.Name, ":")
	if idx < 0 {
		return ""
	}
	return a.Name[:idx]
}

// ShortName returns the last segment of the account name.
func (a Account) ShortName() string {
	idx := strings.LastIndex(a.Name, ":")
	return a.Name[idx+1:]
}

// Transaction is a dated set of postings that nets to zero per currency.
type Transaction struct {
	ID        string         `json:"id"`
	Date      time.Time      `json:"date"`
	Flag      string         `json:"flag"`
	Payee     string         `json:"payee,omitempty"`
	Narration string         `json:"narration"`
	Meta      map[string]any `json:"meta,omitempty"`
	Postings  []Posting      `json:"postings"`
	Tags      []string       `json:"tags,omitempty"`
	Links     []string       `json:"links,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsBalanced reports whether the postings net to zero per currency within
// tolerance.
func (t Transaction) IsBalanced() bool {
	sums := map[string]decimal.Decimal{}
	for _, p := range t.Postings {
		sums[p.Currency] = sums[p.Currency].Add(p.Amount)
	}
	for _, sum := range sums {
		if sum.Abs().Cmp(balanceTolerance) >= 0 {
			return false
		}
	}
	return true
}

// Posting is one leg of a transaction: a signed amount against one account.
// Cost and price fields are carried for investment and conversion tracking;
// the engine stores them but never computes on them.
type Posting struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	AccountID     string           `json:"account_id"`
	Account       *Account         `json:"account,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	CostAmount    *decimal.Decimal `json:"cost_amount,omitempty"`
	CostCurrency  string           `json:"cost_currency,omitempty"`
	CostDate      *time.Time       `json:"cost_date,omitempty"`
	PriceAmount   *decimal.Decimal `json:"price_amount,omitempty"`
	PriceCurrency string           `json:"price_currency,omitempty"`
	Position      int              `json:"position"`
}

// Balance is a point-in-time assertion about an account's balance in one
// currency. Exactly one fact exists per (account, date, currency).
type Balance struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Account   *Account        `json:"account,omitempty"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Verified  bool            `json:"is_verified"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExchangeRate is a stored conversion rate for a currency pair on a date.
// Exactly one fact exists per (date, from, to). Conversion math is the
// caller's concern.
type ExchangeRate struct {
	ID        string          `json:"id"`
	Date      time.Time       `json:"date"`
	From      string          `json:"from_currency"`
	To        string          `json:"to_currency"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatementEntry is one line of a running-balance account statement.
type StatementEntry struct {
	Date          time.Time       `json:"date"`
	Narration     string          `json:"narration"`
	Payee         string          `json:"payee,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	TransactionID string          `json:"transaction_id"`
}

var (
	// ErrNotFound signals an absent row. Absence is a normal outcome: callers
	// check with errors.Is rather than treat it as a failure.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName signals an account name collision.
	ErrDuplicateName = errors.New("account name already exists")
	// ErrMultipleAutoBalance signals more than one posting omitted its amount.
	ErrMultipleAutoBalance = errors.New("at most one posting may omit its amount")
)

// InvalidAccountTypeError reports a name whose first segment is not one of
// the five canonical account types.
type InvalidAccountTypeError struct {
	Segment string
}

func (e *InvalidAccountTypeError) Error() string {
	return fmt.Sprintf("invalid account type %q: must be one of %v", e.Segment, AccountTypes)
}

// UnbalancedError reports a posting set whose amounts do not net to zero.
// The residual is carried for diagnostics.
type UnbalancedError struct {
	Currency string
	Residual decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("postings do not balance: residual %s %s", e.Residual, e.Currency)
}

// NormalizeDate truncates a timestamp to its calendar date at midnight UTC.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newID() string {
	return uuid.NewString()
}
