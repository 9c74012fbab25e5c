package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CreateAccountParams describes a new account. Currency defaults to
// DefaultCurrency when empty.
type CreateAccountParams struct {
	Name        string
	OpenDate    time.Time
	Currency    string
	Description string
	Meta        map[string]any
}

// PostingInput is one posting of a transaction being created. A nil Amount
// marks the posting for auto-balance resolution; at most one posting per
// transaction may omit its amount.
type PostingInput struct {
	AccountID     string
	Amount        *decimal.Decimal
	Currency      string
	CostAmount    *decimal.Decimal
	CostCurrency  string
	CostDate      *time.Time
	PriceAmount   *decimal.Decimal
	PriceCurrency string
}

// CreateTransactionParams describes a transaction to record atomically with
// all of its postings, tags and links. Flag defaults to "*".
type CreateTransactionParams struct {
	Date      time.Time
	Narration string
	Payee     string
	Flag      string
	Postings  []PostingInput
	Tags      []string
	Links     []string
	Meta      map[string]any
}

// AccountFilter restricts ListAccounts. Nil fields match everything.
type AccountFilter struct {
	Type   *AccountType
	Active *bool
}

// SearchParams restricts SearchTransactions. Text matches narration or payee
// case-insensitively as a substring; Payee is an exact match; Min/MaxAmount
// bound the absolute value of any single posting. Limit defaults to 100.
type SearchParams struct {
	Text      string
	Payee     string
	Tag       string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Limit     int
}

// Accounts owns the chart of accounts.
type Accounts interface {
	CreateAccount(ctx context.Context, p CreateAccountParams) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByName(ctx context.Context, name string) (Account, error)
	// GetOrCreateAccount never fails on a duplicate name; the returned flag
	// reports whether a new account was created.
	GetOrCreateAccount(ctx context.Context, p CreateAccountParams) (Account, bool, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]Account, error)
	// ListAccountsByPrefix is segment-aware: "Expenses:Food" matches
	// "Expenses:Food" and "Expenses:Food:Groceries" but not
	// "Expenses:FoodTruck".
	ListAccountsByPrefix(ctx context.Context, prefix string) ([]Account, error)
	CloseAccount(ctx context.Context, id string, closeDate time.Time) (Account, error)
	// AccountBalance derives the balance from posting history; it is never
	// stored redundantly.
	AccountBalance(ctx context.Context, id string, asOf time.Time, currency string) (decimal.Decimal, error)
	// DeleteAccount cascades to the account's postings and balance facts.
	DeleteAccount(ctx context.Context, id string) (bool, error)
}

// Transactions owns transactions and their postings.
type Transactions interface {
	CreateTransaction(ctx context.Context, p CreateTransactionParams) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	TransactionsByLink(ctx context.Context, link string) ([]Transaction, error)
	// TransactionsByDateRange returns transactions with start <= date <= end
	// ordered by date ascending, optionally restricted to those with at
	// least one posting against accountID.
	TransactionsByDateRange(ctx context.Context, start, end time.Time, accountID string) ([]Transaction, error)
	SearchTransactions(ctx context.Context, p SearchParams) ([]Transaction, error)
	// UpdatePostingAccount reassigns the first posting on oldAccountID to
	// newAccountID; it is a no-op when no posting matches.
	UpdatePostingAccount(ctx context.Context, txID, oldAccountID, newAccountID string) (Transaction, error)
	DeleteTransaction(ctx context.Context, id string) (bool, error)
	// AccountStatement seeds the running balance from the account's balance
	// strictly before start and accumulates in chronological order; same-date
	// entries are ordered by transaction id for determinism.
	AccountStatement(ctx context.Context, accountID string, start, end time.Time) ([]StatementEntry, error)
}

// Balances owns balance assertions keyed by (account, date, currency).
type Balances interface {
	// UpsertBalance overwrites the amount in place when the natural key
	// already exists; the original row identity is preserved.
	UpsertBalance(ctx context.Context, accountID string, date time.Time, amount decimal.Decimal, currency string) (Balance, error)
	// LatestBalances returns, for every (account, currency) pair, the single
	// fact with the greatest date <= asOf.
	LatestBalances(ctx context.Context, asOf time.Time) ([]Balance, error)
	DeleteBalance(ctx context.Context, id string) (bool, error)
}

// Rates owns exchange rates keyed by (date, from, to).
type Rates interface {
	UpsertRate(ctx context.Context, date time.Time, from, to string, rate decimal.Decimal, source string) (ExchangeRate, error)
	// Rate returns the most recent rate at or before asOf, or ErrNotFound.
	// Callers must not assume a rate exists.
	Rate(ctx context.Context, from, to string, asOf time.Time) (ExchangeRate, error)
	ListRates(ctx context.Context, from, to string) ([]ExchangeRate, error)
	DeleteRate(ctx context.Context, id string) (bool, error)
}

// Service is the full ledger engine surface.
type Service interface {
	Accounts
	Transactions
	Balances
	Rates
}
