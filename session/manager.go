package session

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/ha1tch/nusql/mssql"
	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/log"
)

// Opener establishes the database handle for a descriptor. The default
// opener dials through the sqlserver driver; tests substitute their own.
type Opener func(d Descriptor) (*sql.DB, error)

// DefaultOpener dials the descriptor's DSN and caps the pool at one
// underlying connection so per-session server state is stable.
func DefaultOpener(d Descriptor) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", d.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Config controls the session manager.
type Config struct {
	// MaxSessions bounds the cache. 0 means unbounded. When full, the
	// least recently used idle session is evicted to make room.
	MaxSessions int

	// IdleTimeout is how long an unused session survives before the
	// sweeper closes it.
	IdleTimeout time.Duration

	// ConnectTimeout bounds session establishment, SweepInterval the
	// janitor period (0 disables the janitor), ProbeTimeout the health
	// check before a cached session is reused.
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	SweepInterval  time.Duration

	Opener Opener
	Clock  func() time.Time
	Logger *log.Logger
}

// DefaultConfig returns the stock manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessions:    16,
		IdleTimeout:    10 * time.Minute,
		ConnectTimeout: 15 * time.Second,
		ProbeTimeout:   3 * time.Second,
		SweepInterval:  time.Minute,
		Opener:         DefaultOpener,
		Clock:          time.Now,
	}
}

// entry is the cache slot for one descriptor key. ready closes when the
// first creation attempt finishes; dead closes when the entry is
// invalidated; slot holds the session while it is idle.
type entry struct {
	ready    chan struct{}
	dead     chan struct{}
	deadOnce sync.Once
	slot     chan *Session
	err      error
	lastUsed time.Time
}

func newEntry() *entry {
	return &entry{
		ready: make(chan struct{}),
		dead:  make(chan struct{}),
		slot:  make(chan *Session, 1),
	}
}

func (e *entry) kill() {
	e.deadOnce.Do(func() { close(e.dead) })
}

// Manager caches sessions keyed by their full descriptor. Creation is
// single-flight per key; checkout is exclusive, so two queries never
// interleave on the same connection.
type Manager struct {
	cfg    Config
	logger *log.CategoryLogger

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager and starts its idle sweeper if the
// configuration asks for one.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Opener == nil {
		cfg.Opener = def.Opener
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.Session(),
		entries: make(map[Key]*entry),
		stop:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go m.sweep()
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.cfg.Clock()
}

// Acquire returns the session for desc, checked out exclusively. The
// first caller for a key establishes the session while concurrent
// callers wait; later callers block until the session is checked back
// in. A cached session is health-probed before reuse and transparently
// rebuilt once if the probe fails.
func (m *Manager) Acquire(ctx context.Context, desc Descriptor) (*Session, error) {
	key := desc.Key()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errors.New(errors.ErrCodeConnectionClosed, "session manager is closed")
		}
		e, ok := m.entries[key]
		if !ok {
			var victim *Session
			if m.cfg.MaxSessions > 0 && len(m.entries) >= m.cfg.MaxSessions {
				if victim = m.evictLRULocked(); victim == nil {
					m.mu.Unlock()
					return nil, errors.Newf(errors.ErrCodeSessionBusy,
						"session cache full (%d active)", m.cfg.MaxSessions)
				}
			}
			e = newEntry()
			m.entries[key] = e
			m.mu.Unlock()
			if victim != nil {
				victim.Close()
			}
			return m.establish(ctx, key, e, desc)
		}
		m.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeConnectTimeout,
				"timed out waiting for session creation")
		}
		if e.err != nil {
			return nil, e.err
		}

		select {
		case s := <-e.slot:
			return m.ensureHealthy(ctx, e, s)
		case <-e.dead:
			// Invalidated while we waited; start over with a fresh entry.
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeSessionBusy,
				"session is checked out by another caller")
		}
	}
}

// establish runs the single-flight creation for a freshly inserted entry.
func (m *Manager) establish(ctx context.Context, key Key, e *entry, desc Descriptor) (*Session, error) {
	s, err := m.open(ctx, desc)
	if err != nil {
		e.err = err
		close(e.ready)
		m.mu.Lock()
		if m.entries[key] == e {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		e.kill()
		m.logger.Error("session establishment failed", err, "target", desc.Redacted())
		return nil, err
	}
	s.owner = e
	m.mu.Lock()
	e.lastUsed = m.now()
	m.mu.Unlock()
	close(e.ready)
	m.logger.Info("session established", "session", s.id, "target", desc.Redacted())
	return s, nil
}

// open dials and verifies a new session.
func (m *Manager) open(ctx context.Context, desc Descriptor) (*Session, error) {
	desc = desc.Normalize()
	db, err := m.cfg.Opener(desc)
	if err != nil {
		return nil, mssql.ClassifyConnectError(err)
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err = db.PingContext(pctx)
	cancel()
	if err != nil {
		db.Close()
		return nil, mssql.ClassifyConnectError(err)
	}
	return newSession(desc, db, m.now()), nil
}

// ensureHealthy probes a cached session before handing it out. A failed
// probe triggers exactly one transparent rebuild; a second failure
// invalidates the entry and surfaces the error.
func (m *Manager) ensureHealthy(ctx context.Context, e *entry, s *Session) (*Session, error) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := s.db.PingContext(pctx)
	cancel()
	if err == nil {
		return s, nil
	}

	m.logger.Info("cached session failed probe, rebuilding",
		"session", s.id, "target", s.desc.Redacted())
	s.Close()

	ns, err := m.open(ctx, s.desc)
	if err != nil {
		m.mu.Lock()
		if m.entries[s.key] == e {
			delete(m.entries, s.key)
		}
		m.mu.Unlock()
		e.kill()
		return nil, err
	}
	ns.owner = e
	m.logger.Info("session rebuilt", "session", ns.id, "target", ns.desc.Redacted())
	return ns, nil
}

// Release checks a session back in. broken drops it from the cache
// instead; the next Acquire for the descriptor starts from scratch.
func (m *Manager) Release(s *Session, broken bool) {
	if s == nil {
		return
	}
	m.mu.Lock()
	e, ok := m.entries[s.key]
	if !ok || e != s.owner || m.closed {
		m.mu.Unlock()
		s.Close()
		return
	}
	if broken {
		delete(m.entries, s.key)
		m.mu.Unlock()
		e.kill()
		s.Close()
		m.logger.Warn("session invalidated", "session", s.id, "target", s.desc.Redacted())
		return
	}
	e.lastUsed = m.now()
	m.mu.Unlock()

	select {
	case e.slot <- s:
	default:
		// Double release; the slot already holds a session.
		s.Close()
	}
}

// Invalidate drops the cached session for desc, if any. A checked-out
// session is closed when its holder releases it.
func (m *Manager) Invalidate(desc Descriptor) bool {
	key := desc.Key()
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.kill()
	select {
	case s := <-e.slot:
		s.Close()
	default:
	}
	return true
}

// EvictIdle closes every idle session whose last use is at least
// IdleTimeout before now, oldest first. It returns the eviction count.
// Checked-out sessions are never evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	type victim struct {
		key Key
		e   *entry
	}

	m.mu.Lock()
	var candidates []victim
	for k, e := range m.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if now.Sub(e.lastUsed) < m.cfg.IdleTimeout {
			continue
		}
		candidates = append(candidates, victim{key: k, e: e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.lastUsed.Before(candidates[j].e.lastUsed)
	})

	var closing []*Session
	for _, v := range candidates {
		select {
		case s := <-v.e.slot:
			delete(m.entries, v.key)
			v.e.kill()
			closing = append(closing, s)
		default:
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
		m.logger.Info("idle session evicted", "session", s.id, "target", s.desc.Redacted())
	}
	return len(closing)
}

// evictLRULocked frees one slot for a new entry. Caller holds mu; the
// returned session, if any, must be closed after the lock is dropped.
func (m *Manager) evictLRULocked() *Session {
	var victimKey Key
	var victimEntry *entry
	for k, e := range m.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if len(e.slot) == 0 {
			continue
		}
		if victimEntry == nil || e.lastUsed.Before(victimEntry.lastUsed) {
			victimKey, victimEntry = k, e
		}
	}
	if victimEntry == nil {
		return nil
	}
	select {
	case s := <-victimEntry.slot:
		delete(m.entries, victimKey)
		victimEntry.kill()
		return s
	default:
		return nil
	}
}

// Len reports the number of cached entries, checked out or idle.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) sweep() {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.EvictIdle(m.now())
		}
	}
}

// Close shuts the manager down: the sweeper stops and every idle
// session is closed. Checked-out sessions are closed on release.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := m.entries
	m.entries = make(map[Key]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.kill()
		select {
		case s := <-e.slot:
			s.Close()
		default:
		}
	}
	return nil
}
