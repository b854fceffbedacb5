package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/thoughtstream/thoughtstream/internal/errors"
)

// CurrentSchemaVersion is the latest schema version.
const CurrentSchemaVersion = 1

// SQLiteStore owns all persistent state. Writes go through a single
// connection opened with BEGIN IMMEDIATE so the change clock advances in
// commit order; reads use a separate pool and see WAL snapshots.
type SQLiteStore struct {
	db     *sql.DB // writer, one connection
	ro     *sql.DB // readers
	sealer *Sealer
	now    func() time.Time
}

// Option customizes a store.
type Option func(*SQLiteStore)

// WithSealer protects message content at rest.
func WithSealer(s *Sealer) Option {
	return func(st *SQLiteStore) { st.sealer = s }
}

// WithClock overrides the wall clock. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(st *SQLiteStore) { st.now = now }
}

func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path, url.Values{
		"_txlock":       {"immediate"},
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_foreign_keys": {"on"},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ro, err := sql.Open("sqlite3", dsn(path, url.Values{
		"_txlock":       {"deferred"},
		"_busy_timeout": {"5000"},
		"_query_only":   {"true"},
	}))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	_ = os.Chmod(path, 0o600)

	s := &SQLiteStore{db: db, ro: ro, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func dsn(path string, params url.Values) string {
	return "file:" + path + "?" + params.Encode()
}

func (s *SQLiteStore) Close() error {
	rerr := s.ro.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Ping checks both handles.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return s.ro.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS thoughts (
		  id           TEXT PRIMARY KEY,
		  text         TEXT NOT NULL,
		  type         TEXT NOT NULL,
		  tags_json    TEXT NOT NULL DEFAULT '[]',
		  context_json TEXT,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL,
		  deleted_at   INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_thoughts_created
		ON thoughts(created_at DESC, id DESC)
		WHERE deleted_at IS NULL;

		CREATE INDEX IF NOT EXISTS idx_thoughts_updated ON thoughts(updated_at);

		CREATE TABLE IF NOT EXISTS derived (
		  thought_id     TEXT PRIMARY KEY REFERENCES thoughts(id) ON DELETE CASCADE,
		  summary        TEXT,
		  auto_tags_json TEXT,
		  category       TEXT,
		  intent         TEXT,
		  entities_json  TEXT,
		  related_json   TEXT,
		  embedding      BLOB NOT NULL,
		  derived_at     INTEGER NOT NULL,
		  updated_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_derived_updated ON derived(updated_at);

		CREATE TABLE IF NOT EXISTS conversations (
		  id         TEXT PRIMARY KEY,
		  title      TEXT,
		  status     TEXT NOT NULL CHECK (status IN ('active', 'archived', 'deleted')),
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL,
		  deleted_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
		  id              TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		  seq             INTEGER NOT NULL,
		  role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		  content         TEXT NOT NULL,
		  citations_json  TEXT,
		  created_at      INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq
		ON messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS tombstones (
		  id         TEXT PRIMARY KEY,
		  kind       TEXT NOT NULL CHECK (kind IN ('thought', 'conversation')),
		  deleted_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tombstones_deleted ON tombstones(deleted_at);

		CREATE TABLE IF NOT EXISTS sync_clock (
		  id          INTEGER PRIMARY KEY CHECK (id = 1),
		  last_change INTEGER NOT NULL
		);

		INSERT OR IGNORE INTO sync_clock (id, last_change) VALUES (1, 0);

		CREATE TABLE IF NOT EXISTS enrichment_queue (
		  seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		  item_id      TEXT NOT NULL,
		  enqueued_at  INTEGER NOT NULL,
		  attempts     INTEGER NOT NULL DEFAULT 0,
		  available_at INTEGER NOT NULL,
		  leased_until INTEGER,
		  last_error   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_queue_available ON enrichment_queue(available_at, seq);

		CREATE TABLE IF NOT EXISTS dead_letters (
		  seq         INTEGER PRIMARY KEY,
		  item_id     TEXT NOT NULL,
		  enqueued_at INTEGER NOT NULL,
		  attempts    INTEGER NOT NULL,
		  last_error  TEXT NOT NULL,
		  failed_at   INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", 1)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS queue_clock (
		  id           INTEGER PRIMARY KEY CHECK (id = 1),
		  last_enqueue INTEGER NOT NULL
		);

		INSERT OR IGNORE INTO queue_clock (id, last_enqueue)
		SELECT 1, COALESCE(MAX(enqueued_at), 0) FROM enrichment_queue;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", 2)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// withWriteTx runs fn in an immediate transaction on the writer connection.
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("begin write: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// withReadTx runs fn in a deferred transaction so every query sees one snapshot.
func (s *SQLiteStore) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.ro.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("begin read: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck
	return fn(tx)
}

// stamp advances the change clock to max(now, last+1) and returns the new
// value. Must be called inside a write transaction.
func (s *SQLiteStore) stamp(ctx context.Context, tx *sql.Tx) (int64, error) {
	var last int64
	if err := tx.QueryRowContext(ctx, "SELECT last_change FROM sync_clock WHERE id = 1").Scan(&last); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("read sync clock: %w", err))
	}
	ts := s.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sync_clock SET last_change = ? WHERE id = 1", ts); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("advance sync clock: %w", err))
	}
	return ts, nil
}

// enqueueStamp advances the queue clock to max(now, last+1). It is separate
// from the change clock so scheduling work never moves the sync watermark.
func (s *SQLiteStore) enqueueStamp(ctx context.Context, tx *sql.Tx) (int64, error) {
	var last int64
	if err := tx.QueryRowContext(ctx, "SELECT last_enqueue FROM queue_clock WHERE id = 1").Scan(&last); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("read queue clock: %w", err))
	}
	ts := s.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	if _, err := tx.ExecContext(ctx, "UPDATE queue_clock SET last_enqueue = ? WHERE id = 1", ts); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("advance queue clock: %w", err))
	}
	return ts, nil
}

// LastChange returns the change clock.
func (s *SQLiteStore) LastChange(ctx context.Context) (int64, error) {
	var last int64
	if err := s.ro.QueryRowContext(ctx, "SELECT last_change FROM sync_clock WHERE id = 1").Scan(&last); err != nil {
		return 0, errors.NewInternal(err)
	}
	return last, nil
}

// NowMillis is the store's clock in milliseconds.
func (s *SQLiteStore) NowMillis() int64 {
	return s.now().UnixMilli()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalList(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
