package waitlist_stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eigerteam/waitlist_gate"
)

var (
	_ waitlist_gate.Store = &PostgresStore{}
)

// QueryTimeoutDuration bounds every statement the Postgres store issues.
var QueryTimeoutDuration = time.Second * 5

const uniqueViolation = "23505"

const waitlistSchema = `CREATE TABLE IF NOT EXISTS %s (
	id         BIGSERIAL PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps the waitlist in a table with a unique email column.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// OpenPostgres opens a pool for dsn and pings it.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore uses table, or "waitlist" when empty.
func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = "waitlist"
	}
	return &PostgresStore{db: db, table: table}
}

// Migrate creates the waitlist table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(waitlistSchema, pq.QuoteIdentifier(s.table))); err != nil {
		return fmt.Errorf("creating table %v: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, email string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE email = $1)`, pq.QuoteIdentifier(s.table))

	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking waitlist for email: %w", err)
	}
	return exists, nil
}

// Insert adds entry. A row already holding the email yields
// waitlist_gate.ErrDuplicate.
func (s *PostgresStore) Insert(ctx context.Context, entry waitlist_gate.Entry) error {
	query := fmt.Sprintf(`INSERT INTO %s (email, created_at) VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING`, pq.QuoteIdentifier(s.table))

	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, entry.Email, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return waitlist_gate.ErrDuplicate
		}
		return fmt.Errorf("inserting waitlist entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return waitlist_gate.ErrDuplicate
	}
	return nil
}
