package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustAccount(t *testing.T, s *InMemory, name string) Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), CreateAccountParams{
		Name:     name,
		OpenDate: day(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return acc
}

func TestCreateAccountDerivesType(t *testing.T) {
	s := NewInMemory()
	acc := mustAccount(t, s, "Assets:Bank:Checking")
	if acc.Type != Assets {
		t.Fatalf("unexpected type: %s", acc.Type)
	}
	if acc.Currency != DefaultCurrency {
		t.Fatalf("unexpected currency: %s", acc.Currency)
	}
	if !acc.Active {
		t.Fatal("new account must be active")
	}
}

func TestCreateAccountRejectsInvalidType(t *testing.T) {
	s := NewInMemory()
	_, err := s.CreateAccount(context.Background(), CreateAccountParams{
		Name:     "InvalidType:Foo",
		OpenDate: day(2024, 1, 1),
	})
	var invalid *InvalidAccountTypeError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidAccountTypeError, got %v", err)
	}
}

func TestCreateAccountRejectsDuplicateName(t *testing.T) {
	s := NewInMemory()
	mustAccount(t, s, "Expenses:Food")
	_, err := s.CreateAccount(context.Background(), CreateAccountParams{
		Name:     "Expenses:Food",
		OpenDate: day(2024, 1, 1),
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestGetOrCreateAccountIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	p := CreateAccountParams{Name: "Income:Salary", OpenDate: day(2024, 1, 1)}

	first, created, err := s.GetOrCreateAccount(ctx, p)
	if err != nil || !created {
		t.Fatalf("expected fresh create, got created=%v err=%v", created, err)
	}
	second, created, err := s.GetOrCreateAccount(ctx, p)
	if err != nil || created {
		t.Fatalf("expected existing account, got created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
}

func TestListAccountsFiltersAndOrders(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	mustAccount(t, s, "Expenses:Food")
	mustAccount(t, s, "Assets:Cash")
	closing := mustAccount(t, s, "Assets:Bank:Old")
	if _, err := s.CloseAccount(ctx, closing.ID, day(2024, 6, 1)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListAccounts(ctx, AccountFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Name != "Assets:Bank:Old" || all[2].Name != "Expenses:Food" {
		t.Fatalf("unexpected ordering: %v", names(all))
	}

	typ := Assets
	active := true
	assets, err := s.ListAccounts(ctx, AccountFilter{Type: &typ, Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0].Name != "Assets:Cash" {
		t.Fatalf("unexpected filtered result: %v", names(assets))
	}
}

func TestListAccountsByPrefixIsSegmentAware(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	mustAccount(t, s, "Expenses:Food")
	mustAccount(t, s, "Expenses:Food:Groceries")
	mustAccount(t, s, "Expenses:FoodTruck")

	got, err := s.ListAccountsByPrefix(ctx, "Expenses:Food")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %v", names(got))
	}
	for _, acc := range got {
		if acc.Name == "Expenses:FoodTruck" {
			t.Fatal("prefix match leaked into sibling segment")
		}
	}
}

func TestCloseAccount(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acc := mustAccount(t, s, "Liabilities:CreditCard")

	closed, err := s.CloseAccount(ctx, acc.ID, day(2024, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if closed.Active || closed.CloseDate == nil || !closed.CloseDate.Equal(day(2024, 12, 31)) {
		t.Fatalf("close not applied: %+v", closed)
	}

	if _, err := s.CloseAccount(ctx, "missing", day(2024, 1, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateTransactionAndDerivedBalances(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	checking := mustAccount(t, s, "Assets:Bank:Checking")
	groceries := mustAccount(t, s, "Expenses:Food:Groceries")

	tx, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 3, 1),
		Narration: "Weekly shop",
		Payee:     "Safeway",
		Postings: []PostingInput{
			{AccountID: groceries.ID, Amount: amt("100.00")},
			{AccountID: checking.ID, Amount: amt("-100.00")},
		},
		Tags:  []string{"food"},
		Links: []string{"trip-2024"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tx.IsBalanced() {
		t.Fatal("expected balanced transaction")
	}
	if tx.Flag != "*" {
		t.Fatalf("expected default flag, got %q", tx.Flag)
	}
	if tx.Postings[0].Position != 0 || tx.Postings[1].Position != 1 {
		t.Fatal("positions must follow input order")
	}
	if tx.Postings[0].Account == nil || tx.Postings[0].Account.Name != "Expenses:Food:Groceries" {
		t.Fatal("postings must be hydrated with their account")
	}

	gb, err := s.AccountBalance(ctx, groceries.ID, day(2024, 12, 31), DefaultCurrency)
	if err != nil {
		t.Fatal(err)
	}
	if !gb.Equal(dec("100.00")) {
		t.Fatalf("groceries balance = %s, want 100.00", gb)
	}
	cb, err := s.AccountBalance(ctx, checking.ID, day(2024, 12, 31), DefaultCurrency)
	if err != nil {
		t.Fatal(err)
	}
	if !cb.Equal(dec("-100.00")) {
		t.Fatalf("checking balance = %s, want -100.00", cb)
	}

	// Balance as of a date before the transaction is zero.
	zero, err := s.AccountBalance(ctx, checking.ID, day(2024, 2, 28), DefaultCurrency)
	if err != nil {
		t.Fatal(err)
	}
	if !zero.IsZero() {
		t.Fatalf("expected zero balance before the transaction, got %s", zero)
	}
}

func TestCreateTransactionAutoBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	checking := mustAccount(t, s, "Assets:Bank:Checking")
	rent := mustAccount(t, s, "Expenses:Rent")

	tx, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 4, 1),
		Narration: "April rent",
		Postings: []PostingInput{
			{AccountID: rent.ID, Amount: amt("1500.00")},
			{AccountID: checking.ID},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Postings[1].Amount.Equal(dec("-1500.00")) {
		t.Fatalf("auto-balance produced %s", tx.Postings[1].Amount)
	}
	if !tx.IsBalanced() {
		t.Fatal("expected balanced transaction")
	}
}

func TestCreateTransactionRejectsAndPersistsNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := mustAccount(t, s, "Assets:Cash")
	b := mustAccount(t, s, "Expenses:Misc")

	_, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 5, 1),
		Narration: "broken",
		Postings: []PostingInput{
			{AccountID: a.ID},
			{AccountID: b.ID},
		},
	})
	if !errors.Is(err, ErrMultipleAutoBalance) {
		t.Fatalf("expected ErrMultipleAutoBalance, got %v", err)
	}

	_, err = s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 5, 1),
		Narration: "broken",
		Postings: []PostingInput{
			{AccountID: a.ID, Amount: amt("10.00")},
			{AccountID: b.ID, Amount: amt("-9.00")},
		},
	})
	var ub *UnbalancedError
	if !errors.As(err, &ub) {
		t.Fatalf("expected UnbalancedError, got %v", err)
	}

	// Nothing was persisted.
	txs, err := s.TransactionsByDateRange(ctx, day(2024, 1, 1), day(2024, 12, 31), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestTransactionsByLink(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cash := mustAccount(t, s, "Assets:Cash")
	travel := mustAccount(t, s, "Expenses:Travel")

	for _, d := range []time.Time{day(2024, 7, 1), day(2024, 7, 5)} {
		if _, err := s.CreateTransaction(ctx, CreateTransactionParams{
			Date:      d,
			Narration: "trip leg",
			Postings: []PostingInput{
				{AccountID: travel.ID, Amount: amt("50")},
				{AccountID: cash.ID, Amount: amt("-50")},
			},
			Links: []string{"berlin-trip"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	linked, err := s.TransactionsByLink(ctx, "berlin-trip")
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 2 {
		t.Fatalf("expected 2 linked transactions, got %d", len(linked))
	}
	if linked[0].Postings[0].Account == nil {
		t.Fatal("linked transactions must be hydrated")
	}
}

func TestSearchTransactions(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cash := mustAccount(t, s, "Assets:Cash")
	food := mustAccount(t, s, "Expenses:Food")

	mk := func(d time.Time, narration, payee, amount string, tags ...string) {
		t.Helper()
		if _, err := s.CreateTransaction(ctx, CreateTransactionParams{
			Date:      d,
			Narration: narration,
			Payee:     payee,
			Postings: []PostingInput{
				{AccountID: food.ID, Amount: amt(amount)},
				{AccountID: cash.ID},
			},
			Tags: tags,
		}); err != nil {
			t.Fatal(err)
		}
	}
	mk(day(2024, 1, 10), "Lunch downtown", "Cafe Roma", "18.50", "eating-out")
	mk(day(2024, 2, 20), "Groceries", "Safeway", "82.00")
	mk(day(2024, 3, 5), "Dinner", "Cafe Roma", "64.00", "eating-out")

	byText, err := s.SearchTransactions(ctx, SearchParams{Text: "lunch"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byText) != 1 || byText[0].Narration != "Lunch downtown" {
		t.Fatalf("text search failed: %d results", len(byText))
	}

	byPayee, err := s.SearchTransactions(ctx, SearchParams{Payee: "Cafe Roma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byPayee) != 2 {
		t.Fatalf("payee search returned %d", len(byPayee))
	}
	// Ordered by date descending.
	if !byPayee[0].Date.After(byPayee[1].Date) {
		t.Fatal("search results must be date-descending")
	}

	byTag, err := s.SearchTransactions(ctx, SearchParams{Tag: "eating-out"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTag) != 2 {
		t.Fatalf("tag search returned %d", len(byTag))
	}

	minA, maxA := dec("50"), dec("90")
	byAmount, err := s.SearchTransactions(ctx, SearchParams{MinAmount: &minA, MaxAmount: &maxA})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAmount) != 2 {
		t.Fatalf("amount search returned %d", len(byAmount))
	}

	limited, err := s.SearchTransactions(ctx, SearchParams{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d results", len(limited))
	}
}

func TestUpdatePostingAccountReassignsFirstMatch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cash := mustAccount(t, s, "Assets:Cash")
	misc := mustAccount(t, s, "Expenses:Misc")
	food := mustAccount(t, s, "Expenses:Food")

	tx, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 8, 1),
		Narration: "uncategorized",
		Postings: []PostingInput{
			{AccountID: misc.ID, Amount: amt("30")},
			{AccountID: cash.ID, Amount: amt("-30")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpdatePostingAccount(ctx, tx.ID, misc.ID, food.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Postings[0].AccountID != food.ID {
		t.Fatal("posting was not reassigned")
	}

	// No matching posting is a no-op, not an error.
	again, err := s.UpdatePostingAccount(ctx, tx.ID, misc.ID, food.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Postings[0].AccountID != food.ID {
		t.Fatal("no-op update changed postings")
	}

	if _, err := s.UpdatePostingAccount(ctx, "missing", misc.ID, food.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTransactionCascades(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cash := mustAccount(t, s, "Assets:Cash")
	misc := mustAccount(t, s, "Expenses:Misc")

	tx, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 9, 1),
		Narration: "to delete",
		Postings: []PostingInput{
			{AccountID: misc.ID, Amount: amt("5")},
			{AccountID: cash.ID, Amount: amt("-5")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteTransaction(ctx, tx.ID)
	if err != nil || !deleted {
		t.Fatalf("delete failed: deleted=%v err=%v", deleted, err)
	}
	if _, err := s.GetTransaction(ctx, tx.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	bal, err := s.AccountBalance(ctx, misc.ID, day(2024, 12, 31), DefaultCurrency)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.IsZero() {
		t.Fatalf("postings survived transaction delete: %s", bal)
	}

	deleted, err = s.DeleteTransaction(ctx, tx.ID)
	if err != nil || deleted {
		t.Fatalf("second delete must report false, got %v", deleted)
	}
}

func TestAccountStatementRunningBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	checking := mustAccount(t, s, "Assets:Bank:Checking")
	income := mustAccount(t, s, "Income:Salary")

	mk := func(d time.Time, amount string) {
		t.Helper()
		if _, err := s.CreateTransaction(ctx, CreateTransactionParams{
			Date:      d,
			Narration: "payday",
			Postings: []PostingInput{
				{AccountID: checking.ID, Amount: amt(amount)},
				{AccountID: income.ID},
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
	mk(day(2024, 3, 1), "100.00")
	mk(day(2024, 3, 10), "50.00")

	entries, err := s.AccountStatement(ctx, checking.ID, day(2024, 3, 1), day(2024, 3, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Balance.Equal(dec("100.00")) || !entries[1].Balance.Equal(dec("150.00")) {
		t.Fatalf("running balances %s, %s; want 100.00, 150.00", entries[0].Balance, entries[1].Balance)
	}
}

func TestAccountStatementSeedsOpeningBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	checking := mustAccount(t, s, "Assets:Bank:Checking")
	income := mustAccount(t, s, "Income:Salary")

	mk := func(d time.Time, amount string) {
		t.Helper()
		if _, err := s.CreateTransaction(ctx, CreateTransactionParams{
			Date:      d,
			Narration: "payday",
			Postings: []PostingInput{
				{AccountID: checking.ID, Amount: amt(amount)},
				{AccountID: income.ID},
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
	mk(day(2024, 1, 15), "200.00") // before the window
	mk(day(2024, 2, 10), "25.00")

	entries, err := s.AccountStatement(ctx, checking.ID, day(2024, 2, 1), day(2024, 2, 28))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Balance.Equal(dec("225.00")) {
		t.Fatalf("opening balance not seeded: %s", entries[0].Balance)
	}
}

func TestUpsertBalanceIsIdempotentOnNaturalKey(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acc := mustAccount(t, s, "Assets:Bank:Checking")

	first, err := s.UpsertBalance(ctx, acc.ID, day(2024, 6, 1), dec("5000"), "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Verified {
		t.Fatal("fresh assertion must be verified")
	}

	second, err := s.UpsertBalance(ctx, acc.ID, day(2024, 6, 1), dec("7500"), "USD")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("upsert must keep the original row identity")
	}
	if !second.Amount.Equal(dec("7500")) {
		t.Fatalf("amount not overwritten: %s", second.Amount)
	}

	all, err := s.LatestBalances(ctx, day(2024, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one fact, got %d", len(all))
	}
}

func TestLatestBalancesRespectsAsOfDate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acc := mustAccount(t, s, "Assets:Bank:Checking")

	for _, fixture := range []struct {
		d   time.Time
		amt string
	}{
		{day(2024, 1, 1), "1000"},
		{day(2024, 3, 1), "2000"},
		{day(2024, 9, 1), "3000"},
	} {
		if _, err := s.UpsertBalance(ctx, acc.ID, fixture.d, dec(fixture.amt), "USD"); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestBalances(ctx, day(2024, 6, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(latest))
	}
	if !latest[0].Amount.Equal(dec("2000")) {
		t.Fatalf("expected the 2024-03-01 fact, got %s dated %s", latest[0].Amount, latest[0].Date)
	}
	if latest[0].Date.After(day(2024, 6, 1)) {
		t.Fatal("latest balance dated after the as-of date")
	}
	if latest[0].Account == nil {
		t.Fatal("latest balances must be hydrated with their account")
	}
}

func TestExchangeRateUpsertAndLatest(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	first, err := s.UpsertRate(ctx, day(2024, 1, 1), "USD", "EUR", dec("0.92"), "ecb")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.UpsertRate(ctx, day(2024, 1, 1), "USD", "EUR", dec("0.93"), "")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("rate upsert must keep the original row identity")
	}
	if !second.Rate.Equal(dec("0.93")) || second.Source != "ecb" {
		t.Fatalf("unexpected upsert result: %+v", second)
	}

	if _, err := s.UpsertRate(ctx, day(2024, 5, 1), "USD", "EUR", dec("0.95"), "ecb"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Rate(ctx, "USD", "EUR", day(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Rate.Equal(dec("0.93")) {
		t.Fatalf("expected the January rate, got %s", got.Rate)
	}

	if _, err := s.Rate(ctx, "USD", "GBP", day(2024, 3, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing pair, got %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cash := mustAccount(t, s, "Assets:Cash")
	misc := mustAccount(t, s, "Expenses:Misc")

	if _, err := s.CreateTransaction(ctx, CreateTransactionParams{
		Date:      day(2024, 10, 1),
		Narration: "spend",
		Postings: []PostingInput{
			{AccountID: misc.ID, Amount: amt("20")},
			{AccountID: cash.ID, Amount: amt("-20")},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertBalance(ctx, misc.ID, day(2024, 10, 2), dec("20"), "USD"); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteAccount(ctx, misc.ID)
	if err != nil || !deleted {
		t.Fatalf("delete failed: deleted=%v err=%v", deleted, err)
	}
	if _, err := s.GetAccount(ctx, misc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	latest, err := s.LatestBalances(ctx, day(2024, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 0 {
		t.Fatalf("balance facts survived account delete: %d", len(latest))
	}

	deleted, err = s.DeleteAccount(ctx, misc.ID)
	if err != nil || deleted {
		t.Fatalf("second delete must report false, got %v", deleted)
	}
}

func names(accs []Account) []string {
	out := make([]string, len(accs))
	for i, a := range accs {
		out[i] = a.Name
	}
	return out
}
