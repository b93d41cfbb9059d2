/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable storage for the six ledger collections. Every method is a single
  statement on a single table, which is the whole consistency model the
  engine relies on: there is no cross-collection transaction.

KEY TABLES:
  users:               accounts; email unique (case-insensitive)
  products:            listed instruments, versioned
  holdings:            positions, versioned; one per (investor, product)
  transactions:        buy/sell/payment movements
  compliance_requests: review queue; action stored as name + JSON value
  notifications:       append-only side-effect records

CONDITIONAL UPDATES:
  UpdateProduct and UpdateHolding run
      UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?
  and report ledger.ErrConcurrentModification when no row matched but the
  document exists.

SCHEMA:
  Versioned goose migrations embedded from migrations/*.sql and applied on
  New(). Times are stored as fixed-width UTC text so that string
  comparison orders them; money is stored as decimal text.

WAL MODE:
  Opened with WAL journaling. A single connection is used, which is what
  makes ":memory:" databases usable (each connection would otherwise get
  its own empty database).

USAGE:
  store, err := sqlite.New(ctx, "./data/compliance.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
  - factory/action.go: action name/value codec
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/compliance-engine/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New opens the database at path and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// =============================================================================
// STATEMENT HELPERS
// =============================================================================

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) affected(ctx context.Context, b sq.Sqlizer) (int, error) {
	res, err := s.exec(ctx, b)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// queryAll runs b and scans every row with scan.
func queryAll[T any](ctx context.Context, s *Store, b sq.SelectBuilder, scan func(rowScanner) (T, error)) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// queryOne returns nil when no row matches.
func queryOne[T any](ctx context.Context, s *Store, b sq.SelectBuilder, scan func(rowScanner) (T, error)) (*T, error) {
	query, args, err := b.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	v, err := scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// casUpdate runs a version-guarded update and distinguishes a stale
// version from a missing row.
func (s *Store) casUpdate(ctx context.Context, table, id string, version int64, b sq.UpdateBuilder) (int64, error) {
	n, err := s.affected(ctx, b.
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": version}))
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return version + 1, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.NotFound("store.update_"+strings.TrimSuffix(table, "s"), strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return 0, err
	}
	return 0, ledger.ErrConcurrentModification
}

// duplicate maps a unique-constraint violation to a Business error.
func duplicate(err error, entity, id string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ledger.Errorf(ledger.KindBusiness, "store.insert", err, "%s %s already exists", entity, id)
	}
	return err
}

// =============================================================================
// VALUE ENCODING
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// decoder accumulates the first parse error over several fields.
type decoder struct{ err error }

func (d *decoder) time(s string) time.Time {
	t, err := parseTime(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return t
}

func (d *decoder) decimal(s string) decimal.Decimal {
	v, err := parseDecimal(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}
