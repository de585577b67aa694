// Package store is the schema-less record store behind the filesystem.
//
// Records are JSON documents in SQLite; attached file content lives in a
// separate blob table keyed by an opaque id. Every mutation advances a
// change clock in the same transaction, which the tree's caches use to
// decide when derived content is stale.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Reserved record keys.
const (
	FieldID       = "_id"
	FieldFilename = "filename"
	FieldFileID   = "_file_id"
	FieldFileHash = "_file_hash"
	FieldDirname  = "dirname"
)

const (
	keyLastUpdated   = "last_updated"
	keyCurrentLayout = "current_layout"
)

var (
	// ErrNotFound is returned for unknown record ids or missing blobs.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidArgument is returned when an operation's input cannot be used,
	// e.g. attaching a file with no derivable filename.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFile is returned for content operations on a metadata-only record.
	ErrNotFile = errors.New("record has no attached file")
	// ErrIDRange is returned when an id does not fit the 32-bit id sets.
	ErrIDRange = errors.New("record id out of 32-bit range")
)

// Dumper receives every record produced by a mutation when auto-dump is on.
type Dumper interface {
	DumpObject(ctx context.Context, rec Record) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithDumper sets the dumper used by auto-dump.
func WithDumper(d Dumper) Option {
	return func(s *Store) { s.dumper = d }
}

// WithAutoDump enables dumping of every record a mutation produces.
func WithAutoDump(enabled bool) Option {
	return func(s *Store) { s.autoDump = enabled }
}

// WithClock overrides the wall clock used to advance the change clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a handle on one database. It is safe for concurrent use; several
// handles may share one database file.
type Store struct {
	db   *sql.DB
	path string

	// mu serializes mutators within this handle and keeps readers from
	// running while a write transaction holds the only connection.
	mu sync.RWMutex

	log      *zap.Logger
	dumper   Dumper
	autoDump bool
	now      func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	fields TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS blobs (
	id      TEXT PRIMARY KEY,
	content BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path. The path ":memory:"
// opens a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !memory {
		// Immediate write transactions plus a busy timeout let several
		// handles on one file serialize their writers instead of failing.
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the path the store was opened with.
func (s *Store) Path() string { return s.path }

// LastUpdated returns the change clock in nanoseconds, or 0 if the database
// has never been mutated.
func (s *Store) LastUpdated(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok, err := getKV(ctx, s.db, keyLastUpdated)
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscan(v, &n); err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", keyLastUpdated, v, err)
	}
	return n, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getKV(ctx context.Context, q querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read kv %s: %w", key, err)
	}
	return v, true, nil
}

func setKV(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("write kv %s: %w", key, err)
	}
	return nil
}

// advanceClock moves the change clock to max(now, previous+1) so it is
// strictly increasing even when the wall clock stalls or steps back.
func (s *Store) advanceClock(ctx context.Context, tx *sql.Tx) error {
	var prev int64
	v, ok, err := getKV(ctx, tx, keyLastUpdated)
	if err != nil {
		return err
	}
	if ok {
		if _, err := fmt.Sscan(v, &prev); err != nil {
			return fmt.Errorf("parse %s %q: %w", keyLastUpdated, v, err)
		}
	}
	next := s.now().UnixNano()
	if next <= prev {
		next = prev + 1
	}
	return setKV(ctx, tx, keyLastUpdated, fmt.Sprint(next))
}

// mutate runs fn in a write transaction that also advances the change clock.
// Records fn returns are auto-dumped after the commit and after the lock is
// released, so a dumper may read the store.
func (s *Store) mutate(ctx context.Context, fn func(tx *sql.Tx) ([]Record, error)) ([]Record, error) {
	recs, err := s.inTx(ctx, func(tx *sql.Tx) ([]Record, error) {
		recs, err := fn(tx)
		if err != nil {
			return nil, err
		}
		if err := s.advanceClock(ctx, tx); err != nil {
			return nil, err
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	s.dump(ctx, recs)
	return recs, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) ([]Record, error)) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	// Rolls back on error and on panic; a no-op once committed.
	defer func() { _ = tx.Rollback() }()

	recs, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return recs, nil
}

func (s *Store) dump(ctx context.Context, recs []Record) {
	if !s.autoDump || s.dumper == nil {
		return
	}
	for _, rec := range recs {
		if err := s.dumper.DumpObject(ctx, rec); err != nil {
			s.log.Warn("auto-dump failed", zap.Int64("id", rec.ID()), zap.Error(err))
		}
	}
}
