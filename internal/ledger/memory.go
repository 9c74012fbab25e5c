package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InMemory implements Service with in-process concurrency safety. It is the
// reference implementation used by handler tests and demo runs; production
// deployments use the Postgres store.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	byName   map[string]string // account name -> id
	txs      map[string]*Transaction
	balances map[string]*Balance
	balKeys  map[string]string // accountID|date|currency -> balance id
	rates    map[string]*ExchangeRate
	rateKeys map[string]string // date|from|to -> rate id
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		byName:   make(map[string]string),
		txs:      make(map[string]*Transaction),
		balances: make(map[string]*Balance),
		balKeys:  make(map[string]string),
		rates:    make(map[string]*ExchangeRate),
		rateKeys: make(map[string]string),
	}
}

// --- accounts ---

func (s *InMemory) CreateAccount(ctx context.Context, p CreateAccountParams) (Account, error) {
	typ, err := AccountTypeFromName(p.Name)
	if err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccountLocked(p, typ)
}

func (s *InMemory) createAccountLocked(p CreateAccountParams, typ AccountType) (Account, error) {
	if _, ok := s.byName[p.Name]; ok {
		return Account{}, ErrDuplicateName
	}
	currency := p.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	now := time.Now().UTC()
	acc := &Account{
		ID:          newID(),
		Name:        p.Name,
		Type:        typ,
		Currency:    currency,
		OpenDate:    NormalizeDate(p.OpenDate),
		Description: p.Description,
		Active:      true,
		Meta:        copyMeta(p.Meta),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.accounts[acc.ID] = acc
	s.byName[acc.Name] = acc.ID
	return cloneAccount(acc), nil
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(acc), nil
}

func (s *InMemory) GetAccountByName(ctx context.Context, name string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *InMemory) GetOrCreateAccount(ctx context.Context, p CreateAccountParams) (Account, bool, error) {
	typ, err := AccountTypeFromName(p.Name)
	if err != nil {
		return Account{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[p.Name]; ok {
		return cloneAccount(s.accounts[id]), false, nil
	}
	acc, err := s.createAccountLocked(p, typ)
	if err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}

func (s *InMemory) ListAccounts(ctx context.Context, f AccountFilter) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, acc := range s.accounts {
		if f.Type != nil && acc.Type != *f.Type {
			continue
		}
		if f.Active != nil && acc.Active != *f.Active {
			continue
		}
		out = append(out, cloneAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) ListAccountsByPrefix(ctx context.Context, prefix string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, acc := range s.accounts {
		if acc.Name == prefix || strings.HasPrefix(acc.Name, prefix+":") {
			out = append(out, cloneAccount(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) CloseAccount(ctx context.Context, id string, closeDate time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	d := NormalizeDate(closeDate)
	acc.CloseDate = &d
	acc.Active = false
	acc.UpdatedAt = time.Now().UTC()
	return cloneAccount(acc), nil
}

func (s *InMemory) AccountBalance(ctx context.Context, id string, asOf time.Time, currency string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[id]; !ok {
		return decimal.Zero, ErrNotFound
	}
	asOf = NormalizeDate(asOf)
	total := decimal.Zero
	for _, tx := range s.txs {
		if tx.Date.After(asOf) {
			continue
		}
		for _, p := range tx.Postings {
			if p.AccountID == id && p.Currency == currency {
				total = total.Add(p.Amount)
			}
		}
	}
	return total, nil
}

func (s *InMemory) DeleteAccount(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return false, nil
	}
	delete(s.accounts, id)
	delete(s.byName, acc.Name)
	// Cascade: postings against the account and its balance facts go with it.
	for _, tx := range s.txs {
		kept := tx.Postings[:0]
		for _, p := range tx.Postings {
			if p.AccountID != id {
				kept = append(kept, p)
			}
		}
		tx.Postings = kept
	}
	for bid, b := range s.balances {
		if b.AccountID == id {
			delete(s.balKeys, balKey(b.AccountID, b.Date, b.Currency))
			delete(s.balances, bid)
		}
	}
	return true, nil
}

// --- transactions ---

func (s *InMemory) CreateTransaction(ctx context.Context, p CreateTransactionParams) (Transaction, error) {
	resolved, err := ResolvePostings(p.Postings)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rp := range resolved {
		if _, ok := s.accounts[rp.AccountID]; !ok {
			return Transaction{}, ErrNotFound
		}
	}

	flag := p.Flag
	if flag == "" {
		flag = "*"
	}
	tx := &Transaction{
		ID:        newID(),
		Date:      NormalizeDate(p.Date),
		Flag:      flag,
		Payee:     p.Payee,
		Narration: p.Narration,
		Meta:      copyMeta(p.Meta),
		Tags:      uniqueStrings(p.Tags),
		Links:     uniqueStrings(p.Links),
		CreatedAt: time.Now().UTC(),
	}
	for i, rp := range resolved {
		tx.Postings = append(tx.Postings, Posting{
			ID:            newID(),
			TransactionID: tx.ID,
			AccountID:     rp.AccountID,
			Amount:        rp.Amount,
			Currency:      rp.Currency,
			CostAmount:    rp.CostAmount,
			CostCurrency:  rp.CostCurrency,
			CostDate:      rp.CostDate,
			PriceAmount:   rp.PriceAmount,
			PriceCurrency: rp.PriceCurrency,
			Position:      i,
		})
	}
	s.txs[tx.ID] = tx
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) TransactionsByLink(ctx context.Context, link string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		for _, l := range tx.Links {
			if l == link {
				out = append(out, s.hydrateLocked(tx))
				break
			}
		}
	}
	sortByDateAsc(out)
	return out, nil
}

func (s *InMemory) TransactionsByDateRange(ctx context.Context, start, end time.Time, accountID string) ([]Transaction, error) {
	start, end = NormalizeDate(start), NormalizeDate(end)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.Date.Before(start) || tx.Date.After(end) {
			continue
		}
		if accountID != "" && !touchesAccount(tx, accountID) {
			continue
		}
		out = append(out, s.hydrateLocked(tx))
	}
	sortByDateAsc(out)
	return out, nil
}

func (s *InMemory) SearchTransactions(ctx context.Context, p SearchParams) ([]Transaction, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if !matchesSearch(tx, p) {
			continue
		}
		out = append(out, s.hydrateLocked(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) UpdatePostingAccount(ctx context.Context, txID, oldAccountID, newAccountID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	for i := range tx.Postings {
		if tx.Postings[i].AccountID == oldAccountID {
			tx.Postings[i].AccountID = newAccountID
			break
		}
	}
	return s.hydrateLocked(tx), nil
}

func (s *InMemory) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return false, nil
	}
	delete(s.txs, id)
	return true, nil
}

func (s *InMemory) AccountStatement(ctx context.Context, accountID string, start, end time.Time) ([]StatementEntry, error) {
	start, end = NormalizeDate(start), NormalizeDate(end)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrNotFound
	}

	// Opening balance: everything strictly before the window.
	running := decimal.Zero
	for _, tx := range s.txs {
		if !tx.Date.Before(start) {
			continue
		}
		for _, p := range tx.Postings {
			if p.AccountID == accountID {
				running = running.Add(p.Amount)
			}
		}
	}

	var window []*Transaction
	for _, tx := range s.txs {
		if tx.Date.Before(start) || tx.Date.After(end) {
			continue
		}
		if touchesAccount(tx, accountID) {
			window = append(window, tx)
		}
	}
	sort.Slice(window, func(i, j int) bool {
		if !window[i].Date.Equal(window[j].Date) {
			return window[i].Date.Before(window[j].Date)
		}
		return window[i].ID < window[j].ID
	})

	var out []StatementEntry
	for _, tx := range window {
		for _, p := range tx.Postings {
			if p.AccountID != accountID {
				continue
			}
			running = running.Add(p.Amount)
			out = append(out, StatementEntry{
				Date:          tx.Date,
				Narration:     tx.Narration,
				Payee:         tx.Payee,
				Amount:        p.Amount,
				Currency:      p.Currency,
				Balance:       running,
				TransactionID: tx.ID,
			})
		}
	}
	return out, nil
}

// --- balance assertions ---

func (s *InMemory) UpsertBalance(ctx context.Context, accountID string, date time.Time, amount decimal.Decimal, currency string) (Balance, error) {
	date = NormalizeDate(date)
	if currency == "" {
		currency = DefaultCurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return Balance{}, ErrNotFound
	}
	key := balKey(accountID, date, currency)
	if id, ok := s.balKeys[key]; ok {
		b := s.balances[id]
		b.Amount = amount
		return s.cloneBalanceLocked(b), nil
	}
	b := &Balance{
		ID:        newID(),
		AccountID: accountID,
		Date:      date,
		Amount:    amount,
		Currency:  currency,
		Verified:  true,
		CreatedAt: time.Now().UTC(),
	}
	s.balances[b.ID] = b
	s.balKeys[key] = b.ID
	return s.cloneBalanceLocked(b), nil
}

func (s *InMemory) LatestBalances(ctx context.Context, asOf time.Time) ([]Balance, error) {
	asOf = NormalizeDate(asOf)
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := map[string]*Balance{}
	for _, b := range s.balances {
		if b.Date.After(asOf) {
			continue
		}
		key := b.AccountID + "|" + b.Currency
		if cur, ok := latest[key]; !ok || b.Date.After(cur.Date) {
			latest[key] = b
		}
	}
	out := make([]Balance, 0, len(latest))
	for _, b := range latest {
		out = append(out, s.cloneBalanceLocked(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func (s *InMemory) DeleteBalance(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	if !ok {
		return false, nil
	}
	delete(s.balKeys, balKey(b.AccountID, b.Date, b.Currency))
	delete(s.balances, id)
	return true, nil
}

// --- exchange rates ---

func (s *InMemory) UpsertRate(ctx context.Context, date time.Time, from, to string, rate decimal.Decimal, source string) (ExchangeRate, error) {
	date = NormalizeDate(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rateKey(date, from, to)
	if id, ok := s.rateKeys[key]; ok {
		r := s.rates[id]
		r.Rate = rate
		if source != "" {
			r.Source = source
		}
		return *r, nil
	}
	r := &ExchangeRate{
		ID:        newID(),
		Date:      date,
		From:      from,
		To:        to,
		Rate:      rate,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	s.rates[r.ID] = r
	s.rateKeys[key] = r.ID
	return *r, nil
}

func (s *InMemory) Rate(ctx context.Context, from, to string, asOf time.Time) (ExchangeRate, error) {
	asOf = NormalizeDate(asOf)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *ExchangeRate
	for _, r := range s.rates {
		if r.From != from || r.To != to || r.Date.After(asOf) {
			continue
		}
		if best == nil || r.Date.After(best.Date) {
			best = r
		}
	}
	if best == nil {
		return ExchangeRate{}, ErrNotFound
	}
	return *best, nil
}

func (s *InMemory) ListRates(ctx context.Context, from, to string) ([]ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExchangeRate
	for _, r := range s.rates {
		if from != "" && r.From != from {
			continue
		}
		if to != "" && r.To != to {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

func (s *InMemory) DeleteRate(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rates[id]
	if !ok {
		return false, nil
	}
	delete(s.rateKeys, rateKey(r.Date, r.From, r.To))
	delete(s.rates, id)
	return true, nil
}

// --- helpers ---

func (s *InMemory) hydrateLocked(tx *Transaction) Transaction {
	out := *tx
	out.Meta = copyMeta(tx.Meta)
	out.Tags = append([]string(nil), tx.Tags...)
	out.Links = append([]string(nil), tx.Links...)
	out.Postings = make([]Posting, len(tx.Postings))
	for i, p := range tx.Postings {
		cp := p
		if acc, ok := s.accounts[p.AccountID]; ok {
			hydrated := cloneAccount(acc)
			cp.Account = &hydrated
		}
		out.Postings[i] = cp
	}
	return out
}

func (s *InMemory) cloneBalanceLocked(b *Balance) Balance {
	out := *b
	if acc, ok := s.accounts[b.AccountID]; ok {
		hydrated := cloneAccount(acc)
		out.Account = &hydrated
	}
	return out
}

func cloneAccount(a *Account) Account {
	out := *a
	out.Meta = copyMeta(a.Meta)
	if a.CloseDate != nil {
		d := *a.CloseDate
		out.CloseDate = &d
	}
	return out
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func touchesAccount(tx *Transaction, accountID string) bool {
	for _, p := range tx.Postings {
		if p.AccountID == accountID {
			return true
		}
	}
	return false
}

func matchesSearch(tx *Transaction, p SearchParams) bool {
	if p.Text != "" {
		needle := strings.ToLower(p.Text)
		if !strings.Contains(strings.ToLower(tx.Narration), needle) &&
			!strings.Contains(strings.ToLower(tx.Payee), needle) {
			return false
		}
	}
	if p.Payee != "" && tx.Payee != p.Payee {
		return false
	}
	if p.Tag != "" {
		found := false
		for _, tag := range tx.Tags {
			if tag == p.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.MinAmount != nil || p.MaxAmount != nil {
		found := false
		for _, post := range tx.Postings {
			abs := post.Amount.Abs()
			if p.MinAmount != nil && abs.Cmp(*p.MinAmount) < 0 {
				continue
			}
			if p.MaxAmount != nil && abs.Cmp(*p.MaxAmount) > 0 {
				continue
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func sortByDateAsc(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}

func balKey(accountID string, date time.Time, currency string) string {
	return accountID + "|" + date.Format(DateLayout) + "|" + currency
}

func rateKey(date time.Time, from, to string) string {
	return date.Format(DateLayout) + "|" + from + "|" + to
}
