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

const rateCols = `id, date, from_currency, to_currency, rate, coalesce(source,''), created_at`

func scanRate(row scanner) (ledger.ExchangeRate, error) {
	var r ledger.ExchangeRate
	err := row.Scan(&r.ID, &r.Date, &r.From, &r.To, &r.Rate, &r.Source, &r.CreatedAt)
	if err != nil {
		return ledger.ExchangeRate{}, err
	}
	r.Date = ledger.NormalizeDate(r.Date)
	return r, nil
}

func (s *Store) UpsertRate(ctx context.Context, date time.Time, from, to string, rate decimal.Decimal, source string) (ledger.ExchangeRate, error) {
	// On conflict the rate always moves; the source only moves when the new
	// one is non-empty.
	row := s.db.QueryRowContext(ctx, `
		insert into exchange_rates(id, date, from_currency, to_currency, rate, source)
		values ($1,$2,$3,$4,$5,nullif($6,''))
		on conflict (date, from_currency, to_currency)
		do update set
			rate = excluded.rate,
			source = coalesce(excluded.source, exchange_rates.source)
		returning `+rateCols+`
	`, uuid.NewString(), ledger.NormalizeDate(date), from, to, rate, source)
	return scanRate(row)
}

func (s *Store) Rate(ctx context.Context, from, to string, asOf time.Time) (ledger.ExchangeRate, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+rateCols+` from exchange_rates
		where from_currency=$1 and to_currency=$2 and date <= $3
		order by date desc
		limit 1
	`, from, to, ledger.NormalizeDate(asOf))
	r, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ExchangeRate{}, ledger.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRates(ctx context.Context, from, to string) ([]ledger.ExchangeRate, error) {
	query := `select ` + rateCols + ` from exchange_rates where 1=1`
	var args []any
	if from != "" {
		args = append(args, from)
		query += ` and from_currency=$1`
	}
	if to != "" {
		args = append(args, to)
		query += ` and to_currency=$` + itoa(len(args))
	}
	query += ` order by date desc, from_currency, to_currency`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ExchangeRate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRate(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from exchange_rates where id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
