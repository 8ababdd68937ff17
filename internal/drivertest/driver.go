// Package drivertest provides a scripted database/sql driver for tests.
// It speaks enough of the driver contract to stand in for a SQL Server
// connection: context-aware query and exec, ping, named parameters,
// column type metadata, and the out-of-band message channel used for
// affected row counts.
package drivertest

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"

	"github.com/golang-sql/sqlexp"
)

// Col describes one column of a scripted result set.
type Col struct {
	Name      string
	TypeName  string
	Nullable  bool
	Precision int64
	Scale     int64
	Length    int64
}

// Result scripts the outcome of a single query or exec.
type Result struct {
	Cols     []Col
	Rows     [][]driver.Value
	Affected int64

	// QueryErr is returned directly from QueryContext or ExecContext.
	QueryErr error
	// MsgErr is delivered through the message channel instead, after
	// any rows.
	MsgErr error
}

// Script holds the behavior of a connector. All fields may be mutated
// before the first connection is opened; afterwards use the accessors.
type Script struct {
	mu sync.Mutex

	// Results maps exact query text to its outcome. Queries not present
	// fall back to Default; with no Default they fail.
	Results map[string]*Result
	Default *Result

	// OpenErrs and PingErrs are consumed in order, one per call; once
	// exhausted, calls succeed.
	OpenErrs []error
	PingErrs []error

	opens    int
	closes   int
	pings    int
	queries  int
	lastSQL  string
	lastArgs []driver.NamedValue
}

// Opens reports how many connections have been opened.
func (s *Script) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes reports how many connections have been closed.
func (s *Script) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Pings reports how many health probes have been issued.
func (s *Script) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Queries reports how many statements have been executed.
func (s *Script) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// LastSQL reports the text of the most recent statement.
func (s *Script) LastSQL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSQL
}

// LastArgs reports the bound parameters of the most recent statement.
func (s *Script) LastArgs() []driver.NamedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastArgs
}

func (s *Script) takeOpenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.OpenErrs) > 0 {
		err := s.OpenErrs[0]
		s.OpenErrs = s.OpenErrs[1:]
		return err
	}
	return nil
}

func (s *Script) takePingErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if len(s.PingErrs) > 0 {
		err := s.PingErrs[0]
		s.PingErrs = s.PingErrs[1:]
		return err
	}
	return nil
}

func (s *Script) lookup(query string, args []driver.NamedValue) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.lastSQL = query
	s.lastArgs = args
	if r, ok := s.Results[query]; ok {
		return r, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return nil, fmt.Errorf("drivertest: unscripted query %q", query)
}

// Connector wires a Script into database/sql. Use sql.OpenDB.
type Connector struct {
	script *Script
}

// NewConnector creates a connector backed by script.
func NewConnector(script *Script) *Connector {
	if script.Results == nil {
		script.Results = make(map[string]*Result)
	}
	return &Connector{script: script}
}

func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := c.script.takeOpenErr(); err != nil {
		return nil, err
	}
	return &conn{script: c.script}, nil
}

func (c *Connector) Driver() driver.Driver {
	return drv{}
}

type drv struct{}

func (drv) Open(name string) (driver.Conn, error) {
	return nil, fmt.Errorf("drivertest: open by DSN not supported")
}

type conn struct {
	script *Script
	retmsg *sqlexp.ReturnMessage
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("drivertest: prepared statements not supported")
}

func (c *conn) Close() error {
	c.script.mu.Lock()
	c.script.closes++
	c.script.mu.Unlock()
	return nil
}

func (c *conn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("drivertest: transactions not supported")
}

func (c *conn) Ping(ctx context.Context) error {
	return c.script.takePingErr()
}

// CheckNamedValue captures the out-of-band message argument and passes
// everything else through the default converter. The message queue must
// be initialized here; Message blocks forever on an uninitialized one.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if m, ok := nv.Value.(*sqlexp.ReturnMessage); ok {
		sqlexp.ReturnMessageInit(m)
		c.retmsg = m
		return driver.ErrRemoveArgument
	}
	var err error
	nv.Value, err = driver.DefaultParameterConverter.ConvertValue(nv.Value)
	return err
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	retmsg := c.retmsg
	c.retmsg = nil

	res, err := c.script.lookup(query, args)
	if err != nil {
		return nil, err
	}
	if res.QueryErr != nil {
		return nil, res.QueryErr
	}

	if retmsg != nil {
		msgs := make([]interface{}, 0, 4)
		if len(res.Cols) > 0 {
			msgs = append(msgs, sqlexp.MsgNext{})
		}
		if res.Affected > 0 {
			msgs = append(msgs, sqlexp.MsgRowsAffected{Count: res.Affected})
		}
		if res.MsgErr != nil {
			msgs = append(msgs, sqlexp.MsgError{Error: res.MsgErr})
		}
		msgs = append(msgs, sqlexp.MsgNextResultSet{})
		go func() {
			for _, msg := range msgs {
				if err := sqlexp.ReturnMessageEnqueue(ctx, retmsg, msg); err != nil {
					return
				}
			}
		}()
	}

	return &rows{res: res}, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.retmsg = nil
	res, err := c.script.lookup(query, args)
	if err != nil {
		return nil, err
	}
	if res.QueryErr != nil {
		return nil, res.QueryErr
	}
	return driver.RowsAffected(res.Affected), nil
}

type rows struct {
	res *Result
	pos int
}

func (r *rows) Columns() []string {
	names := make([]string, len(r.res.Cols))
	for i, c := range r.res.Cols {
		names[i] = c.Name
	}
	return names
}

func (r *rows) Close() error {
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.res.Rows) {
		return io.EOF
	}
	copy(dest, r.res.Rows[r.pos])
	r.pos++
	return nil
}

func (r *rows) HasNextResultSet() bool {
	return false
}

func (r *rows) NextResultSet() error {
	return io.EOF
}

func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return r.res.Cols[index].TypeName
}

func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	return r.res.Cols[index].Nullable, true
}

func (r *rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	c := r.res.Cols[index]
	if c.Precision == 0 && c.Scale == 0 {
		return 0, 0, false
	}
	return c.Precision, c.Scale, true
}

func (r *rows) ColumnTypeLength(index int) (length int64, ok bool) {
	if r.res.Cols[index].Length == 0 {
		return 0, false
	}
	return r.res.Cols[index].Length, true
}
