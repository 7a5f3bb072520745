package record_stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eigerteam/waitlist_gate"
)

var (
	_ waitlist_gate.RecordStore = &SQLiteRecordStore{}
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteRecordStore keeps records on local disk as a JSON array per key. It
// survives restarts of a single-node deployment without a Redis.
type SQLiteRecordStore struct {
	dbConn *sqlx.DB
	now    func() time.Time
}

// OpenSQLite connects to the SQLite file at path and applies pending
// migrations.
func OpenSQLite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}

	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting dialect for migrations : %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migration : %w", err)
	}
	return db, nil
}

// NewSQLiteRecordStore wraps an open connection.
func NewSQLiteRecordStore(db *sqlx.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{
		dbConn: db,
		now:    time.Now,
	}
}

// Close terminates the database connection.
func (s *SQLiteRecordStore) Close() error {
	if err := s.dbConn.Close(); err != nil {
		return fmt.Errorf("closing record store : %w", err)
	}
	return nil
}

// ReadRecord returns nil, nil when no row exists for key.
func (s *SQLiteRecordStore) ReadRecord(ctx context.Context, key string) ([]int64, error) {
	var raw string
	query := `SELECT timestamps FROM rate_limit_records WHERE record_key = ?`

	err := s.dbConn.GetContext(ctx, &raw, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %v : %w", key, err)
	}

	var timestamps []int64
	if err := json.Unmarshal([]byte(raw), &timestamps); err != nil {
		return nil, fmt.Errorf("decoding record %v : %w: %v", key, waitlist_gate.ErrCorruptRecord, err)
	}
	return timestamps, nil
}

// WriteRecord upserts the whole record.
func (s *SQLiteRecordStore) WriteRecord(ctx context.Context, key string, timestamps []int64) error {
	if timestamps == nil {
		timestamps = []int64{}
	}
	raw, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("encoding record %v : %w", key, err)
	}

	query := `INSERT INTO rate_limit_records (record_key, timestamps, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(record_key) DO UPDATE SET
			timestamps = excluded.timestamps,
			updated_at = excluded.updated_at`

	if _, err := s.dbConn.ExecContext(ctx, query, key, string(raw), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upserting record %v : %w", key, err)
	}
	return nil
}
