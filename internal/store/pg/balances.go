package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
)

const balanceCols = `id, account_id, date, amount, currency, is_verified, created_at`

func scanBalance(row scanner) (ledger.Balance, error) {
	var b ledger.Balance
	err := row.Scan(&b.ID, &b.AccountID, &b.Date, &b.Amount, &b.Currency, &b.Verified, &b.CreatedAt)
	if err != nil {
		return ledger.Balance{}, err
	}
	b.Date = ledger.NormalizeDate(b.Date)
	return b, nil
}

func (s *Store) UpsertBalance(ctx context.Context, accountID string, date time.Time, amount decimal.Decimal, currency string) (ledger.Balance, error) {
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	// On conflict the existing row keeps its id; only the amount moves.
	row := s.db.QueryRowContext(ctx, `
		insert into balances(id, account_id, date, amount, currency, is_verified)
		values ($1,$2,$3,$4,$5,true)
		on conflict (account_id, date, currency)
		do update set amount = excluded.amount
		returning `+balanceCols+`
	`, uuid.NewString(), accountID, ledger.NormalizeDate(date), amount, currency)

	b, err := scanBalance(row)
	if isPgErr(err, pgForeignKeyViolation) {
		return ledger.Balance{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Balance{}, err
	}
	return b, nil
}

func (s *Store) LatestBalances(ctx context.Context, asOf time.Time) ([]ledger.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct on (b.account_id, b.currency)
			b.id, b.account_id, b.date, b.amount, b.currency, b.is_verified, b.created_at,
			`+prefixed(accountCols, "a")+`
		from balances b
		join accounts a on a.id = b.account_id
		where b.date <= $1
		order by b.account_id, b.currency, b.date desc
	`, ledger.NormalizeDate(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		var (
			b       ledger.Balance
			acc     ledger.Account
			typ     string
			closeDt sql.NullTime
			rawMeta []byte
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Date, &b.Amount, &b.Currency, &b.Verified, &b.CreatedAt,
			&acc.ID, &acc.Name, &typ, &acc.Currency, &acc.OpenDate, &closeDt,
			&acc.Description, &acc.Active, &rawMeta, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		b.Date = ledger.NormalizeDate(b.Date)
		acc.Type = ledger.AccountType(typ)
		acc.OpenDate = ledger.NormalizeDate(acc.OpenDate)
		if closeDt.Valid {
			d := ledger.NormalizeDate(closeDt.Time)
			acc.CloseDate = &d
		}
		if acc.Meta, err = metaFromJSON(rawMeta); err != nil {
			return nil, err
		}
		b.Account = &acc
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBalance(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from balances where id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
