package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
)

func (s *Store) CreateAccount(ctx context.Context, p ledger.CreateAccountParams) (ledger.Account, error) {
	typ, err := ledger.AccountTypeFromName(p.Name)
	if err != nil {
		return ledger.Account{}, err
	}
	currency := p.Currency
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	meta, err := metaJSON(p.Meta)
	if err != nil {
		return ledger.Account{}, err
	}

	id := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `
		insert into accounts(id, name, account_type, currency, open_date, description, meta)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7)
		returning `+accountCols+`
	`, id, p.Name, string(typ), currency, ledger.NormalizeDate(p.OpenDate), p.Description, meta)

	acc, err := scanAccount(row)
	if isPgErr(err, pgUniqueViolation) {
		return ledger.Account{}, ledger.ErrDuplicateName
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountCols+` from accounts where id=$1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, err
}

func (s *Store) GetAccountByName(ctx context.Context, name string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountCols+` from accounts where name=$1`, name)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, err
}

func (s *Store) GetOrCreateAccount(ctx context.Context, p ledger.CreateAccountParams) (ledger.Account, bool, error) {
	acc, err := s.GetAccountByName(ctx, p.Name)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Account{}, false, err
	}
	acc, err = s.CreateAccount(ctx, p)
	if errors.Is(err, ledger.ErrDuplicateName) {
		// Lost a create race; the row exists now.
		acc, err = s.GetAccountByName(ctx, p.Name)
		return acc, false, err
	}
	if err != nil {
		return ledger.Account{}, false, err
	}
	return acc, true, nil
}

func (s *Store) ListAccounts(ctx context.Context, f ledger.AccountFilter) ([]ledger.Account, error) {
	query := `select ` + accountCols + ` from accounts where 1=1`
	var args []any
	if f.Type != nil {
		args = append(args, string(*f.Type))
		query += ` and account_type=$1`
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		query += ` and is_active=$` + itoa(len(args))
	}
	query += ` order by name`

	return s.queryAccounts(ctx, query, args...)
}

func (s *Store) ListAccountsByPrefix(ctx context.Context, prefix string) ([]ledger.Account, error) {
	// Segment-aware: the exact name or anything below it in the hierarchy.
	return s.queryAccounts(ctx, `
		select `+accountCols+` from accounts
		where name = $1 or name like $2
		order by name
	`, prefix, likeEscape(prefix)+":%")
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) CloseAccount(ctx context.Context, id string, closeDate time.Time) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set close_date=$2, is_active=false, updated_at=now()
		where id=$1
		returning `+accountCols+`
	`, id, ledger.NormalizeDate(closeDate))
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, err
}

func (s *Store) AccountBalance(ctx context.Context, id string, asOf time.Time, currency string) (decimal.Decimal, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where id=$1)`, id).Scan(&exists); err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, ledger.ErrNotFound
	}

	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(p.amount), 0)
		from postings p
		join transactions t on t.id = p.transaction_id
		where p.account_id=$1 and p.currency=$2 and t.date <= $3
	`, id, currency, ledger.NormalizeDate(asOf)).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) (bool, error) {
	// Postings and balance facts go with the account via on delete cascade.
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
