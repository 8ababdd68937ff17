package mssql

import (
	"context"
	"database/sql"

	"github.com/golang-sql/sqlexp"

	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/log"
	"github.com/ha1tch/nusql/pkg/value"
)

// Stream iterates the first result set of an executed query. Rows are
// pulled from the wire on demand: the server cursor advances only when
// the consumer does.
//
// Usage mirrors sql.Rows:
//
//	for st.Next() {
//	    rec := st.Record()
//	    ...
//	}
//	if err := st.Err(); err != nil { ... }
//	st.Close()
//
// Close is idempotent and must be called even after exhaustion. The
// release hook fires exactly once, on whichever of exhaustion, error,
// or Close comes first.
//
// A Stream is not safe for concurrent use. To abandon one from another
// goroutine, cancel the query context and let the owner close it.
type Stream struct {
	ctx     context.Context
	rows    *sql.Rows
	retmsg  *sqlexp.ReturnMessage
	schema  Schema
	scan    []interface{}
	limit   int64
	release func(broken bool)
	logger  *log.CategoryLogger

	rec      *value.Record
	count    int64
	affected int64
	err      error
	firstErr error
	done     bool
	closed   bool
}

// Schema reports the column layout of the result set. For statements
// producing no rows it is empty, never nil.
func (s *Stream) Schema() Schema {
	return s.schema
}

// RowsAffected reports the server's affected row count for statements
// that produced no result set. The count is final only once the stream
// is exhausted or closed.
func (s *Stream) RowsAffected() int64 {
	return s.affected
}

// RowCount reports the number of rows delivered so far.
func (s *Stream) RowCount() int64 {
	return s.count
}

// Next advances to the next row. It returns false on exhaustion, on the
// configured row limit, or on error; Err distinguishes the cases.
func (s *Stream) Next() bool {
	if s.done || s.closed {
		return false
	}
	if s.limit >= 0 && s.count >= s.limit {
		s.finish(nil)
		return false
	}
	if !s.rows.Next() {
		s.drain()
		return false
	}
	if err := s.rows.Scan(s.scan...); err != nil {
		s.finish(ClassifyQueryError(err))
		return false
	}

	rec := value.NewRecord(len(s.schema))
	for i, col := range s.schema {
		cell := *(s.scan[i].(*interface{}))
		v, merr := MapCell(cell, col)
		if merr != nil {
			// Degraded cells carry a placeholder; the row still flows.
			s.logger.Error("cell could not be mapped", merr,
				"column", col.Name, "type", col.TypeName)
		}
		rec.Push(col.Name, v)
	}
	s.rec = rec
	s.count++
	return true
}

// Record returns the row produced by the last successful Next.
func (s *Stream) Record() *value.Record {
	return s.rec
}

// Err reports the first error encountered while streaming.
func (s *Stream) Err() error {
	return s.err
}

// Close abandons the stream. Any unread remainder of the cursor is
// cancelled rather than drained. Safe to call more than once.
func (s *Stream) Close() error {
	s.finish(nil)
	return nil
}

// advance pumps driver messages until the first result set is ready or
// the statement turns out not to produce one. Affected counts and
// notices emitted before the first result set are absorbed here.
func (s *Stream) advance() error {
	for {
		msg := s.retmsg.Message(s.ctx)
		switch m := msg.(type) {
		case sqlexp.MsgNext:
			cts, err := s.rows.ColumnTypes()
			if err != nil {
				return ClassifyQueryError(err)
			}
			s.schema = schemaFromColumnTypes(cts)
			s.scan = make([]interface{}, len(s.schema))
			for i := range s.scan {
				s.scan[i] = new(interface{})
			}
			return nil
		case sqlexp.MsgRowsAffected:
			s.affected += m.Count
		case sqlexp.MsgNotice:
			s.logger.Info("server message", "text", m.Message.String())
		case sqlexp.MsgError:
			if s.firstErr == nil {
				s.firstErr = ClassifyQueryError(m.Error)
			}
		case sqlexp.MsgNextResultSet:
			if s.rows.NextResultSet() {
				continue
			}
			s.done = true
			s.schema = Schema{}
			if s.firstErr != nil {
				return s.firstErr
			}
			if err := s.rows.Err(); err != nil {
				return ClassifyQueryError(err)
			}
			if err := s.ctx.Err(); err != nil {
				return ClassifyQueryError(err)
			}
			return nil
		}
	}
}

// drain runs after the first result set is exhausted. Trailing messages
// are collected until the statement completes; any further result sets
// are cancelled, not delivered.
func (s *Stream) drain() {
	for {
		msg := s.retmsg.Message(s.ctx)
		switch m := msg.(type) {
		case sqlexp.MsgRowsAffected:
			s.affected += m.Count
		case sqlexp.MsgNotice:
			s.logger.Info("server message", "text", m.Message.String())
		case sqlexp.MsgError:
			if s.firstErr == nil {
				s.firstErr = ClassifyQueryError(m.Error)
			}
		case sqlexp.MsgNext:
			// A second result set: out of scope for this stream.
			s.finish(s.firstErr)
			return
		case sqlexp.MsgNextResultSet:
			if s.rows.NextResultSet() {
				s.finish(s.firstErr)
				return
			}
			err := s.firstErr
			if err == nil {
				err = ClassifyOrNil(s.rows.Err())
			}
			s.finish(err)
			return
		}
	}
}

// finish closes the cursor and fires the release hook once. A non-nil
// err (or one recorded earlier) marks the stream failed; the hook's
// broken flag follows the error's classification.
func (s *Stream) finish(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.done = true
	if err != nil && s.err == nil {
		s.err = err
	}
	s.rows.Close()
	if s.release != nil {
		broken := false
		if s.err != nil {
			broken = errors.GetCode(s.err).InvalidatesSession()
		}
		s.release(broken)
	}
}

// ClassifyOrNil wraps ClassifyQueryError but preserves nil.
func ClassifyOrNil(err error) error {
	if err == nil {
		return nil
	}
	return ClassifyQueryError(err)
}
