package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
	"beanledger.org/internal/report"
	"beanledger.org/internal/store/pg"
)

// Exercises the full engine end to end: accounts, a balanced transaction, an
// auto-balanced one, a balance assertion, a rate and the net-worth report.
func main() {
	log.SetFlags(0)

	var svc ledger.Service
	if dsn := os.Getenv("LEDGER_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		svc = store
	} else {
		svc = ledger.NewInMemory()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	suffix := time.Now().UTC().Format("20060102150405")
	mk := func(name string) ledger.Account {
		acc, _, err := svc.GetOrCreateAccount(ctx, ledger.CreateAccountParams{
			Name:     name + suffix,
			OpenDate: day,
		})
		if err != nil {
			log.Fatalf("create account %s: %v", name, err)
		}
		return acc
	}

	checking := mk("Assets:Bank:Smoke")
	groceries := mk("Expenses:Food:Smoke")
	salary := mk("Income:Salary:Smoke")

	amount := decimal.RequireFromString("125.50")
	neg := amount.Neg()
	if _, err := svc.CreateTransaction(ctx, ledger.CreateTransactionParams{
		Date:      day,
		Narration: "weekly groceries",
		Postings: []ledger.PostingInput{
			{AccountID: groceries.ID, Amount: &amount, Currency: "USD"},
			{AccountID: checking.ID, Amount: &neg, Currency: "USD"},
		},
	}); err != nil {
		log.Fatalf("record transaction: %v", err)
	}

	// Auto-balance: the income leg gets -3000 filled in.
	pay := decimal.RequireFromString("3000.00")
	if _, err := svc.CreateTransaction(ctx, ledger.CreateTransactionParams{
		Date:      day.AddDate(0, 0, 1),
		Narration: "march salary",
		Payee:     "Acme Corp",
		Postings: []ledger.PostingInput{
			{AccountID: checking.ID, Amount: &pay, Currency: "USD"},
			{AccountID: salary.ID, Currency: "USD"},
		},
	}); err != nil {
		log.Fatalf("record auto-balanced transaction: %v", err)
	}

	bal, err := svc.AccountBalance(ctx, checking.ID, day.AddDate(0, 0, 7), "USD")
	if err != nil {
		log.Fatalf("account balance: %v", err)
	}
	want := pay.Sub(amount)
	if !bal.Equal(want) {
		log.Fatalf("balance conservation failed: got %s, want %s", bal, want)
	}

	if _, err := svc.UpsertBalance(ctx, checking.ID, day.AddDate(0, 0, 7), bal, "USD"); err != nil {
		log.Fatalf("assert balance: %v", err)
	}
	if _, err := svc.UpsertRate(ctx, day, "EUR", "USD", decimal.RequireFromString("1.08"), "smoke"); err != nil {
		log.Fatalf("record rate: %v", err)
	}

	summaries, err := report.NewReporter(svc).NetWorth(ctx, day.AddDate(0, 1, 0))
	if err != nil {
		log.Fatalf("net worth: %v", err)
	}
	found := false
	for _, s := range summaries {
		if s.Currency == "USD" && s.TotalAssets.GreaterThanOrEqual(want) {
			found = true
		}
	}
	if !found {
		log.Fatalf("net worth missing USD assets: %+v", summaries)
	}

	fmt.Printf("✅ ledger smoke test passed: checking=%s balance=%s\n", checking.ID, bal)
}
