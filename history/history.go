// Package history keeps a local record of executed queries in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ha1tch/nusql/pkg/errors"
)

// Entry is one recorded query execution.
type Entry struct {
	ID         int64
	ExecutedAt time.Time
	Target     string // redacted descriptor, never credentials
	Query      string
	Rows       int64
	Affected   int64
	Duration   time.Duration
	Error      string // classified error string, empty on success
}

// Config holds history store configuration.
type Config struct {
	// Path to the database file. Use ":memory:" for an in-memory store.
	Path string

	// Connection pool settings
	MaxOpenConns int
	MaxIdleConns int

	// SQLite-specific options
	JournalMode string
	BusyTimeout int // milliseconds

	// MaxEntries bounds the table; older entries are pruned past it.
	// 0 disables pruning.
	MaxEntries int
}

// DefaultConfig returns sensible defaults, storing history under
// ~/.nusql/history.db.
func DefaultConfig() Config {
	path := ":memory:"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".nusql", "history.db")
	}
	return Config{
		Path:         path,
		MaxOpenConns: 1, // SQLite prefers single writer
		MaxIdleConns: 1,
		JournalMode:  "WAL",
		BusyTimeout:  5000,
		MaxEntries:   10000,
	}
}

// Store is a SQLite-backed query history.
type Store struct {
	db  *sql.DB
	cfg Config
}

const schema = `
CREATE TABLE IF NOT EXISTS query_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	executed_at TEXT    NOT NULL,
	target      TEXT    NOT NULL,
	query       TEXT    NOT NULL,
	rows        INTEGER NOT NULL DEFAULT 0,
	affected    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_executed_at ON query_history(executed_at);
`

// New opens (or creates) the history store.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeHistory, "create history dir")
		}
	}

	// Build DSN with options
	dsn := cfg.Path
	opts := []string{}
	if cfg.BusyTimeout > 0 {
		opts = append(opts, fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout))
	}
	if cfg.JournalMode != "" {
		opts = append(opts, fmt.Sprintf("_journal_mode=%s", cfg.JournalMode))
	}
	if len(opts) > 0 {
		dsn = dsn + "?" + strings.Join(opts, "&")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistory, "open history database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeHistory, "ping history database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeHistory, "create history schema")
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Record appends one entry and prunes past the configured bound.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (executed_at, target, query, rows, affected, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutedAt.UTC().Format(time.RFC3339Nano),
		e.Target, e.Query, e.Rows, e.Affected,
		e.Duration.Milliseconds(), e.Error)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeHistory, "record query")
	}

	if s.cfg.MaxEntries > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM query_history WHERE id NOT IN (
				SELECT id FROM query_history ORDER BY id DESC LIMIT ?)`,
			s.cfg.MaxEntries)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeHistory, "prune history")
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx,
		`SELECT id, executed_at, target, query, rows, affected, duration_ms, error
		 FROM query_history ORDER BY id DESC LIMIT ?`, limit)
}

// Search returns entries whose query text contains term, newest first.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx,
		`SELECT id, executed_at, target, query, rows, affected, duration_ms, error
		 FROM query_history WHERE query LIKE ? ESCAPE '\'
		 ORDER BY id DESC LIMIT ?`,
		"%"+escapeLike(term)+"%", limit)
}

// Clear deletes all history and reports how many entries were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_history`)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeHistory, "clear history")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistory, "query history")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		var durMS int64
		if err := rows.Scan(&e.ID, &at, &e.Target, &e.Query,
			&e.Rows, &e.Affected, &durMS, &e.Error); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeHistory, "scan history row")
		}
		e.ExecutedAt, _ = time.Parse(time.RFC3339Nano, at)
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistory, "iterate history")
	}
	return out, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
