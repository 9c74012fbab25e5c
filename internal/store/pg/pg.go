package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"beanledger.org/internal/ledger"
)

// Store implements ledger.Service over PostgreSQL. Every top-level mutation
// runs inside one database transaction: either all of its writes land or
// none do.
type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

// Open connects to the database and tunes the pool. The returned Store is
// explicitly owned by the caller; close it when done.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle; used by tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- helpers ---

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func metaJSON(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func metaFromJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func itoa(n int) string { return strconv.Itoa(n) }

// likeEscape neutralizes LIKE metacharacters in user-supplied fragments.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

const accountCols = `id, name, account_type, currency, open_date, close_date, coalesce(description,''), is_active, meta, created_at, updated_at`

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		acc       ledger.Account
		typ       string
		closeDate sql.NullTime
		rawMeta   []byte
	)
	err := row.Scan(&acc.ID, &acc.Name, &typ, &acc.Currency, &acc.OpenDate, &closeDate,
		&acc.Description, &acc.Active, &rawMeta, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	acc.Type = ledger.AccountType(typ)
	acc.OpenDate = ledger.NormalizeDate(acc.OpenDate)
	if closeDate.Valid {
		d := ledger.NormalizeDate(closeDate.Time)
		acc.CloseDate = &d
	}
	if acc.Meta, err = metaFromJSON(rawMeta); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}
