package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
)

func (s *Store) CreateTransaction(ctx context.Context, p ledger.CreateTransactionParams) (ledger.Transaction, error) {
	// All validation happens before the first write: a rejected posting set
	// leaves nothing behind.
	resolved, err := ledger.ResolvePostings(p.Postings)
	if err != nil {
		return ledger.Transaction{}, err
	}
	flag := p.Flag
	if flag == "" {
		flag = "*"
	}
	meta, err := metaJSON(p.Meta)
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	txID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		insert into transactions(id, date, flag, payee, narration, meta)
		values ($1,$2,$3,nullif($4,''),$5,$6)
	`, txID, ledger.NormalizeDate(p.Date), flag, p.Payee, p.Narration, meta); err != nil {
		return ledger.Transaction{}, err
	}

	for i, rp := range resolved {
		_, err := tx.ExecContext(ctx, `
			insert into postings(id, transaction_id, account_id, amount, currency,
				cost_amount, cost_currency, cost_date, price_amount, price_currency, position)
			values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,nullif($10,''),$11)
		`, uuid.NewString(), txID, rp.AccountID, rp.Amount, rp.Currency,
			decPtr(rp.CostAmount), rp.CostCurrency, datePtr(rp.CostDate),
			decPtr(rp.PriceAmount), rp.PriceCurrency, i)
		if isPgErr(err, pgForeignKeyViolation) {
			return ledger.Transaction{}, ledger.ErrNotFound
		}
		if err != nil {
			return ledger.Transaction{}, err
		}
	}

	for _, tag := range dedupe(p.Tags) {
		if _, err := tx.ExecContext(ctx, `
			insert into transaction_tags(id, transaction_id, tag) values ($1,$2,$3)
		`, uuid.NewString(), txID, tag); err != nil {
			return ledger.Transaction{}, err
		}
	}
	for _, link := range dedupe(p.Links) {
		if _, err := tx.ExecContext(ctx, `
			insert into transaction_links(id, transaction_id, link) values ($1,$2,$3)
		`, uuid.NewString(), txID, link); err != nil {
			return ledger.Transaction{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return s.GetTransaction(ctx, txID)
}

const transactionCols = `id, date, flag, coalesce(payee,''), narration, meta, created_at`

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var t ledger.Transaction
	var rawMeta []byte
	err := row.Scan(&t.ID, &t.Date, &t.Flag, &t.Payee, &t.Narration, &rawMeta, &t.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Date = ledger.NormalizeDate(t.Date)
	if t.Meta, err = metaFromJSON(rawMeta); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `select `+transactionCols+` from transactions where id=$1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.hydrate(ctx, &t); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

// hydrate attaches postings (with their accounts), tags and links.
func (s *Store) hydrate(ctx context.Context, t *ledger.Transaction) error {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.account_id, p.amount, p.currency,
			p.cost_amount, coalesce(p.cost_currency,''), p.cost_date,
			p.price_amount, coalesce(p.price_currency,''), p.position,
			a.id, a.name, a.account_type, a.currency, a.open_date, a.close_date,
			coalesce(a.description,''), a.is_active, a.meta, a.created_at, a.updated_at
		from postings p
		join accounts a on a.id = p.account_id
		where p.transaction_id=$1
		order by p.position
	`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p          ledger.Posting
			costAmt    decimal.NullDecimal
			costDate   sql.NullTime
			priceAmt   decimal.NullDecimal
			acc        ledger.Account
			accType    string
			accClose   sql.NullTime
			accRawMeta []byte
		)
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Amount, &p.Currency,
			&costAmt, &p.CostCurrency, &costDate,
			&priceAmt, &p.PriceCurrency, &p.Position,
			&acc.ID, &acc.Name, &accType, &acc.Currency, &acc.OpenDate, &accClose,
			&acc.Description, &acc.Active, &accRawMeta, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return err
		}
		p.TransactionID = t.ID
		if costAmt.Valid {
			p.CostAmount = &costAmt.Decimal
		}
		if costDate.Valid {
			d := ledger.NormalizeDate(costDate.Time)
			p.CostDate = &d
		}
		if priceAmt.Valid {
			p.PriceAmount = &priceAmt.Decimal
		}
		acc.Type = ledger.AccountType(accType)
		acc.OpenDate = ledger.NormalizeDate(acc.OpenDate)
		if accClose.Valid {
			d := ledger.NormalizeDate(accClose.Time)
			acc.CloseDate = &d
		}
		if acc.Meta, err = metaFromJSON(accRawMeta); err != nil {
			return err
		}
		p.Account = &acc
		t.Postings = append(t.Postings, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if t.Tags, err = s.queryStrings(ctx, `select tag from transaction_tags where transaction_id=$1 order by tag`, t.ID); err != nil {
		return err
	}
	t.Links, err = s.queryStrings(ctx, `select link from transaction_links where transaction_id=$1 order by link`, t.ID)
	return err
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) TransactionsByLink(ctx context.Context, link string) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		select `+prefixed(transactionCols, "t")+`
		from transactions t
		join transaction_links l on l.transaction_id = t.id
		where l.link=$1
		order by t.date, t.id
	`, link)
}

func (s *Store) TransactionsByDateRange(ctx context.Context, start, end time.Time, accountID string) ([]ledger.Transaction, error) {
	start, end = ledger.NormalizeDate(start), ledger.NormalizeDate(end)
	if accountID != "" {
		return s.queryTransactions(ctx, `
			select distinct `+prefixed(transactionCols, "t")+`
			from transactions t
			join postings p on p.transaction_id = t.id
			where t.date >= $1 and t.date <= $2 and p.account_id = $3
			order by t.date, t.id
		`, start, end, accountID)
	}
	return s.queryTransactions(ctx, `
		select `+prefixed(transactionCols, "t")+`
		from transactions t
		where t.date >= $1 and t.date <= $2
		order by t.date, t.id
	`, start, end)
}

func (s *Store) SearchTransactions(ctx context.Context, p ledger.SearchParams) ([]ledger.Transaction, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `select ` + prefixed(transactionCols, "t") + ` from transactions t where 1=1`
	var args []any
	if p.Text != "" {
		args = append(args, "%"+likeEscape(p.Text)+"%")
		n := itoa(len(args))
		query += ` and (t.narration ilike $` + n + ` or t.payee ilike $` + n + `)`
	}
	if p.Payee != "" {
		args = append(args, p.Payee)
		query += ` and t.payee = $` + itoa(len(args))
	}
	if p.Tag != "" {
		args = append(args, p.Tag)
		query += ` and exists (select 1 from transaction_tags g where g.transaction_id = t.id and g.tag = $` + itoa(len(args)) + `)`
	}
	if p.MinAmount != nil || p.MaxAmount != nil {
		// One posting must fall entirely within the absolute-amount bounds.
		cond := `exists (select 1 from postings p where p.transaction_id = t.id`
		if p.MinAmount != nil {
			args = append(args, *p.MinAmount)
			cond += ` and abs(p.amount) >= $` + itoa(len(args))
		}
		if p.MaxAmount != nil {
			args = append(args, *p.MaxAmount)
			cond += ` and abs(p.amount) <= $` + itoa(len(args))
		}
		query += ` and ` + cond + `)`
	}
	args = append(args, limit)
	query += ` order by t.date desc, t.id limit $` + itoa(len(args))

	return s.queryTransactions(ctx, query, args...)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if err := s.hydrate(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdatePostingAccount(ctx context.Context, txID, oldAccountID, newAccountID string) (ledger.Transaction, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from transactions where id=$1)`, txID).Scan(&exists); err != nil {
		return ledger.Transaction{}, err
	}
	if !exists {
		return ledger.Transaction{}, ledger.ErrNotFound
	}

	// Reassign only the first matching posting; no rows affected is a no-op.
	if _, err := s.db.ExecContext(ctx, `
		update postings set account_id=$3
		where id = (
			select id from postings
			where transaction_id=$1 and account_id=$2
			order by position limit 1
		)
	`, txID, oldAccountID, newAccountID); err != nil {
		return ledger.Transaction{}, err
	}
	return s.GetTransaction(ctx, txID)
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	// Postings, tags and links go with the header via on delete cascade.
	res, err := s.db.ExecContext(ctx, `delete from transactions where id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) AccountStatement(ctx context.Context, accountID string, start, end time.Time) ([]ledger.StatementEntry, error) {
	start, end = ledger.NormalizeDate(start), ledger.NormalizeDate(end)

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where id=$1)`, accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ledger.ErrNotFound
	}

	var opening decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(p.amount), 0)
		from postings p
		join transactions t on t.id = p.transaction_id
		where p.account_id=$1 and t.date < $2
	`, accountID, start).Scan(&opening); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select t.id, t.date, t.narration, coalesce(t.payee,''), p.amount, p.currency
		from postings p
		join transactions t on t.id = p.transaction_id
		where p.account_id=$1 and t.date >= $2 and t.date <= $3
		order by t.date, t.id, p.position
	`, accountID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	running := opening
	var out []ledger.StatementEntry
	for rows.Next() {
		var e ledger.StatementEntry
		if err := rows.Scan(&e.TransactionID, &e.Date, &e.Narration, &e.Payee, &e.Amount, &e.Currency); err != nil {
			return nil, err
		}
		e.Date = ledger.NormalizeDate(e.Date)
		running = running.Add(e.Amount)
		e.Balance = running
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- helpers ---

func decPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func datePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ledger.NormalizeDate(*t)
}

func dedupe(in []string) []string {
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

func prefixed(cols, alias string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		if strings.HasPrefix(c, "coalesce(") {
			parts[i] = strings.Replace(c, "coalesce(", "coalesce("+alias+".", 1)
			continue
		}
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}
