package report

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
)

// CurrencySummary is a per-currency net-worth bucket.
type CurrencySummary struct {
	Currency         string          `json:"currency"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetWorth         decimal.Decimal `json:"net_worth"`
}

// Reporter derives summaries from the ledger stores. It only reads; it never
// mutates them.
type Reporter struct {
	balances ledger.Balances
}

// NewReporter constructs a Reporter over the balance assertion store.
func NewReporter(balances ledger.Balances) *Reporter {
	return &Reporter{balances: balances}
}

// NetWorth fetches the latest balance facts as of a date and partitions them
// by currency: Assets amounts sum into TotalAssets, Liabilities into
// TotalLiabilities, net worth is their difference. Currencies with no
// matching accounts are absent from the output. Buckets are sorted by
// currency code.
func (r *Reporter) NetWorth(ctx context.Context, asOf time.Time) ([]CurrencySummary, error) {
	facts, err := r.balances.LatestBalances(ctx, asOf)
	if err != nil {
		return nil, err
	}

	buckets := map[string]*CurrencySummary{}
	for _, fact := range facts {
		if fact.Account == nil {
			continue
		}
		typ := fact.Account.Type
		if typ != ledger.Assets && typ != ledger.Liabilities {
			continue
		}
		b, ok := buckets[fact.Currency]
		if !ok {
			b = &CurrencySummary{Currency: fact.Currency}
			buckets[fact.Currency] = b
		}
		switch typ {
		case ledger.Assets:
			b.TotalAssets = b.TotalAssets.Add(fact.Amount)
		case ledger.Liabilities:
			b.TotalLiabilities = b.TotalLiabilities.Add(fact.Amount)
		}
	}

	out := make([]CurrencySummary, 0, len(buckets))
	for _, b := range buckets {
		b.NetWorth = b.TotalAssets.Sub(b.TotalLiabilities)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
