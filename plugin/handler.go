package plugin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ha1tch/nusql/config"
	"github.com/ha1tch/nusql/history"
	"github.com/ha1tch/nusql/mssql"
	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/log"
	"github.com/ha1tch/nusql/pkg/value"
	"github.com/ha1tch/nusql/pkg/version"
	"github.com/ha1tch/nusql/session"
)

// DefaultRowBuffer is the number of records buffered between the fetch
// loop and the host writer.
const DefaultRowBuffer = 10

// maxLineBytes bounds a single request line.
const maxLineBytes = 4 << 20

// Handler serves the plugin protocol. It is constructed from the
// collaborators and talks to plain io interfaces, so tests drive it
// without a process boundary.
type Handler struct {
	sessions *session.Manager
	exec     *mssql.Executor
	hist     *history.Store // may be nil
	logger   *log.Logger

	rowBuffer    int
	queryTimeout time.Duration

	mu  sync.RWMutex
	cfg *config.Config
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRowBuffer sets the record buffer between fetching and writing.
func WithRowBuffer(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.rowBuffer = n
		}
	}
}

// WithQueryTimeout bounds each query or exec call. 0 means no bound.
func WithQueryTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.queryTimeout = d
	}
}

// WithHistory attaches a query history store.
func WithHistory(hist *history.Store) HandlerOption {
	return func(h *Handler) {
		h.hist = hist
	}
}

// NewHandler creates a protocol handler.
func NewHandler(cfg *config.Config, sessions *session.Manager, exec *mssql.Executor, logger *log.Logger, opts ...HandlerOption) *Handler {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	h := &Handler{
		sessions:  sessions,
		exec:      exec,
		logger:    logger,
		rowBuffer: DefaultRowBuffer,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetConfig swaps the profile configuration, typically from the config
// watcher. In-flight calls keep the configuration they started with.
func (h *Handler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *Handler) currentConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Serve reads requests line by line until EOF or ctx cancellation,
// writing responses to w. Requests are handled sequentially; within a
// query, fetching and writing overlap through a bounded record buffer.
func (h *Handler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		req, err := parseRequest(line)
		if err != nil {
			h.logger.Protocol().Warn("malformed request", "error", err.Error())
			if werr := writeJSON(out, errorResponse{ID: req.ID, Error: errorBodyFor(err)}); werr != nil {
				return werr
			}
			continue
		}

		h.logger.Protocol().Debug("request", "id", req.ID, "op", req.Op)
		if err := h.dispatch(ctx, out, req); err != nil {
			// Only transport failures abort the serve loop.
			return err
		}
	}
	return scanner.Err()
}

// parseRequest decodes one line. Numbers decode as json.Number so
// integer parameters bind as integers.
func parseRequest(line []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	req := &Request{}
	if err := dec.Decode(req); err != nil {
		return &Request{}, errors.Wrap(err, errors.ErrCodeMalformedCall, "undecodable request")
	}
	if req.Op == "" {
		return req, errors.New(errors.ErrCodeMalformedCall, "request missing op")
	}
	return req, nil
}

func (h *Handler) dispatch(ctx context.Context, out *bufio.Writer, req *Request) error {
	switch req.Op {
	case OpHello:
		return h.handleHello(out, req)
	case OpConnect:
		return h.handleConnect(ctx, out, req)
	case OpQuery:
		return h.handleQuery(ctx, out, req)
	case OpExec:
		return h.handleExec(ctx, out, req)
	case OpProfiles:
		return h.handleProfiles(out, req)
	case OpHistory:
		return h.handleHistory(ctx, out, req)
	default:
		return h.writeError(out, req.ID, errors.Newf(errors.ErrCodeMalformedCall,
			"unknown op %q", req.Op))
	}
}

func (h *Handler) handleHello(out *bufio.Writer, req *Request) error {
	rec := value.NewRecord(3)
	rec.Push("name", value.String("nusql"))
	rec.Push("version", value.String(version.Version))
	rec.Push("protocol", value.String("json-lines/1"))
	if err := writeJSON(out, recordResponse{ID: req.ID, Record: rec}); err != nil {
		return err
	}
	return h.writeDone(out, req.ID, 1, 0)
}

func (h *Handler) handleConnect(ctx context.Context, out *bufio.Writer, req *Request) error {
	desc, err := h.resolveTarget(req)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}

	s, err := h.sessions.Acquire(ctx, desc)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}
	h.sessions.Release(s, false)

	rec := value.NewRecord(2)
	rec.Push("session", value.String(s.ID()))
	rec.Push("target", value.String(desc.Redacted()))
	if err := writeJSON(out, recordResponse{ID: req.ID, Record: rec}); err != nil {
		return err
	}
	return h.writeDone(out, req.ID, 1, 0)
}

func (h *Handler) handleQuery(ctx context.Context, out *bufio.Writer, req *Request) error {
	desc, err := h.resolveTarget(req)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}
	query, err := querySource(req)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}

	qctx := ctx
	var cancel context.CancelFunc
	if h.queryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
	} else {
		qctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	s, err := h.sessions.Acquire(qctx, desc)
	if err != nil {
		h.record(ctx, desc, query, 0, 0, start, err)
		return h.writeError(out, req.ID, err)
	}

	opts := []mssql.RunOption{
		mssql.WithRelease(func(broken bool) { h.sessions.Release(s, broken) }),
	}
	if req.Limit > 0 {
		opts = append(opts, mssql.WithRowLimit(req.Limit))
	}

	st, err := h.exec.Run(qctx, s.DB(), query, bindParams(req.Params), opts...)
	if err != nil {
		h.record(ctx, desc, query, 0, 0, start, err)
		return h.writeError(out, req.ID, err)
	}

	// Fetch into a bounded buffer so slow hosts apply backpressure to
	// the wire instead of accumulating rows in memory. The fetch
	// goroutine is the only one touching the stream; the writer abandons
	// it by cancelling qctx, never by calling into it.
	records := make(chan *value.Record, h.rowBuffer)
	fetchDone := make(chan struct{})
	go func() {
		defer close(fetchDone)
		defer close(records)
		defer st.Close()
		for st.Next() {
			select {
			case records <- st.Record():
			case <-qctx.Done():
				return
			}
		}
	}()

	var werr error
	for rec := range records {
		if err := writeJSON(out, recordResponse{ID: req.ID, Record: rec}); err != nil {
			// Host went away: stop fetching and drop the rest.
			werr = err
			cancel()
			break
		}
	}
	for range records {
	}
	<-fetchDone

	if werr != nil {
		h.record(ctx, desc, query, st.RowCount(), st.RowsAffected(), start, werr)
		return werr
	}
	if serr := st.Err(); serr != nil {
		h.record(ctx, desc, query, st.RowCount(), st.RowsAffected(), start, serr)
		return h.writeError(out, req.ID, serr)
	}
	h.record(ctx, desc, query, st.RowCount(), st.RowsAffected(), start, nil)
	return h.writeDone(out, req.ID, st.RowCount(), st.RowsAffected())
}

func (h *Handler) handleExec(ctx context.Context, out *bufio.Writer, req *Request) error {
	desc, err := h.resolveTarget(req)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}
	query, err := querySource(req)
	if err != nil {
		return h.writeError(out, req.ID, err)
	}

	qctx := ctx
	var cancel context.CancelFunc
	if h.queryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	start := time.Now()
	s, err := h.sessions.Acquire(qctx, desc)
	if err != nil {
		h.record(ctx, desc, query, 0, 0, start, err)
		return h.writeError(out, req.ID, err)
	}

	affected, err := h.exec.Exec(qctx, s.DB(), query, bindParams(req.Params))
	h.sessions.Release(s, err != nil && errors.GetCode(err).InvalidatesSession())
	if err != nil {
		h.record(ctx, desc, query, 0, 0, start, err)
		return h.writeError(out, req.ID, err)
	}

	h.record(ctx, desc, query, 0, affected, start, nil)
	return h.writeDone(out, req.ID, 0, affected)
}

func (h *Handler) handleProfiles(out *bufio.Writer, req *Request) error {
	cfg := h.currentConfig()
	def, _ := cfg.DefaultProfile()

	var n int64
	for _, p := range cfg.Profiles {
		d := p.Descriptor().Normalize()
		rec := value.NewRecord(6)
		rec.Push("name", value.String(p.Name))
		rec.Push("host", value.String(d.Host))
		rec.Push("port", value.Int(int64(d.Port)))
		rec.Push("database", value.String(d.Database))
		rec.Push("user", value.String(d.User))
		rec.Push("default", value.Bool(p.Name == def.Name))
		if err := writeJSON(out, recordResponse{ID: req.ID, Record: rec}); err != nil {
			return err
		}
		n++
	}
	return h.writeDone(out, req.ID, n, 0)
}

func (h *Handler) handleHistory(ctx context.Context, out *bufio.Writer, req *Request) error {
	if h.hist == nil {
		return h.writeError(out, req.ID, errors.New(errors.ErrCodeHistory,
			"query history is disabled"))
	}

	limit := int(req.Limit)
	var (
		entries []history.Entry
		err     error
	)
	if req.Term != "" {
		entries, err = h.hist.Search(ctx, req.Term, limit)
	} else {
		entries, err = h.hist.Recent(ctx, limit)
	}
	if err != nil {
		return h.writeError(out, req.ID, err)
	}

	for _, e := range entries {
		rec := value.NewRecord(7)
		rec.Push("executed_at", value.AwareDateTime(e.ExecutedAt))
		rec.Push("target", value.String(e.Target))
		rec.Push("query", value.String(e.Query))
		rec.Push("rows", value.Int(e.Rows))
		rec.Push("affected", value.Int(e.Affected))
		rec.Push("duration_ms", value.Int(e.Duration.Milliseconds()))
		if e.Error != "" {
			rec.Push("error", value.String(e.Error))
		} else {
			rec.Push("error", value.Null())
		}
		if err := writeJSON(out, recordResponse{ID: req.ID, Record: rec}); err != nil {
			return err
		}
	}
	return h.writeDone(out, req.ID, int64(len(entries)), 0)
}

// resolveTarget picks the descriptor for a request: inline descriptor,
// named profile, or the default profile, in that order.
func (h *Handler) resolveTarget(req *Request) (session.Descriptor, error) {
	if req.Descriptor != nil {
		return req.Descriptor.toSession(), nil
	}
	cfg := h.currentConfig()
	if req.Profile != "" {
		return cfg.Resolve(req.Profile)
	}
	p, ok := cfg.DefaultProfile()
	if !ok {
		return session.Descriptor{}, errors.New(errors.ErrCodeProfileNotFound,
			"no descriptor, no profile, and no default profile configured")
	}
	return p.Resolve()
}

// querySource returns the query text: inline or from a file, exactly one.
func querySource(req *Request) (string, error) {
	switch {
	case req.Query != "" && req.File != "":
		return "", errors.New(errors.ErrCodeMalformedCall, "both query and file given")
	case req.Query != "":
		return req.Query, nil
	case req.File != "":
		b, err := os.ReadFile(req.File)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrCodeMalformedCall,
				"cannot read query file %s", req.File)
		}
		return string(b), nil
	default:
		return "", errors.New(errors.ErrCodeMalformedCall, "request has no query")
	}
}

func bindParams(params []Param) []mssql.Param {
	if len(params) == 0 {
		return nil
	}
	out := make([]mssql.Param, len(params))
	for i, p := range params {
		out[i] = mssql.Param{Name: p.Name, Value: p.driverValue()}
	}
	return out
}

// record persists one history entry, best effort.
func (h *Handler) record(ctx context.Context, desc session.Descriptor, query string, rows, affected int64, start time.Time, callErr error) {
	if h.hist == nil {
		return
	}
	e := history.Entry{
		ExecutedAt: start,
		Target:     desc.Redacted(),
		Query:      query,
		Rows:       rows,
		Affected:   affected,
		Duration:   time.Since(start),
	}
	if callErr != nil {
		e.Error = callErr.Error()
	}
	if err := h.hist.Record(ctx, e); err != nil {
		h.logger.System().Warn("history write failed", "error", err.Error())
	}
}

func (h *Handler) writeDone(out *bufio.Writer, id, rows, affected int64) error {
	return writeJSON(out, doneResponse{ID: id, Done: doneBody{Rows: rows, Affected: affected}})
}

func (h *Handler) writeError(out *bufio.Writer, id int64, err error) error {
	h.logger.Protocol().Debug("call failed", "id", id, "code", int(errors.GetCode(err)))
	return writeJSON(out, errorResponse{ID: id, Error: errorBodyFor(err)})
}

// writeJSON emits one response line and flushes, so the host sees rows
// as they stream.
func writeJSON(out *bufio.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if _, err := out.Write(b); err != nil {
		return err
	}
	if err := out.WriteByte('\n'); err != nil {
		return err
	}
	return out.Flush()
}
