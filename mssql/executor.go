package mssql

import (
	"context"
	"database/sql"

	"github.com/golang-sql/sqlexp"

	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/log"
)

// Param is one bound query parameter. Unnamed parameters bind
// positionally as @p1..@pN; a non-empty Name binds as @Name. Parameters
// always travel through the driver's binding mechanism, never through
// textual substitution into the query.
type Param struct {
	Name  string
	Value interface{}
}

// Executor drives query execution against a borrowed session connection.
// It owns no connections itself: the caller supplies the session's
// database handle and takes it back through the stream's release hook.
type Executor struct {
	logger *log.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{logger: logger}
}

// RunOption configures a single Run call.
type RunOption func(*runConfig)

type runConfig struct {
	limit   int64
	release func(broken bool)
}

// WithRowLimit stops the stream after n rows. The remainder of the
// server-side cursor is cancelled, not drained.
func WithRowLimit(n int64) RunOption {
	return func(cfg *runConfig) {
		cfg.limit = n
	}
}

// WithRelease registers a hook invoked exactly once when the stream is
// finished or abandoned. broken reports that the session must not return
// to the cache.
func WithRelease(fn func(broken bool)) RunOption {
	return func(cfg *runConfig) {
		cfg.release = fn
	}
}

// Run executes a query and returns a stream positioned before the first
// row. The stream's schema is available immediately, before any row is
// read. Statements that produce no result set yield an empty schema and
// an exhausted stream whose RowsAffected reports the server's count.
//
// On failure the release hook has already fired and no stream is
// returned: an error and a usable cursor are mutually exclusive.
func (e *Executor) Run(ctx context.Context, db *sql.DB, query string, params []Param, opts ...RunOption) (*Stream, error) {
	cfg := runConfig{limit: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	args := make([]interface{}, 0, len(params)+1)
	for _, p := range params {
		if p.Name != "" {
			args = append(args, sql.Named(p.Name, p.Value))
		} else {
			args = append(args, p.Value)
		}
	}

	// The return-message channel carries out-of-band results: affected
	// row counts, server notices, per-statement errors.
	retmsg := &sqlexp.ReturnMessage{}
	args = append(args, retmsg)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		cerr := ClassifyQueryError(err)
		if cfg.release != nil {
			cfg.release(errors.GetCode(cerr).InvalidatesSession())
		}
		return nil, cerr
	}

	st := &Stream{
		ctx:     ctx,
		rows:    rows,
		retmsg:  retmsg,
		limit:   cfg.limit,
		release: cfg.release,
		logger:  e.logger.Query(),
	}
	if err := st.advance(); err != nil {
		st.finish(err)
		return nil, err
	}
	return st, nil
}

// Exec executes a statement that is not expected to return rows and
// reports the affected row count.
func (e *Executor) Exec(ctx context.Context, db *sql.DB, query string, params []Param) (int64, error) {
	args := make([]interface{}, 0, len(params))
	for _, p := range params {
		if p.Name != "" {
			args = append(args, sql.Named(p.Name, p.Value))
		} else {
			args = append(args, p.Value)
		}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ClassifyQueryError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ClassifyQueryError(err)
	}
	return affected, nil
}
