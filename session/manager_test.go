package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ha1tch/nusql/internal/drivertest"
	"github.com/ha1tch/nusql/pkg/errors"
)

// testOpener opens a fresh fake handle per call, all sharing one script,
// and counts the calls.
func testOpener(script *drivertest.Script, opens *int32) Opener {
	return func(d Descriptor) (*sql.DB, error) {
		atomic.AddInt32(opens, 1)
		db := sql.OpenDB(drivertest.NewConnector(script))
		db.SetMaxOpenConns(1)
		return db, nil
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAcquireReusesCachedSession(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa", Password: "x"}

	s1, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	m.Release(s1, false)

	s2, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	m.Release(s2, false)

	if s1.ID() != s2.ID() {
		t.Errorf("cache miss: %s vs %s", s1.ID(), s2.ID())
	}
	if n := atomic.LoadInt32(&opens); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
}

func TestDistinctCredentialsDistinctSessions(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})

	s1, err := m.Acquire(context.Background(), Descriptor{User: "sa", Password: "one"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s2, err := m.Acquire(context.Background(), Descriptor{User: "sa", Password: "two"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(s1, false)
	defer m.Release(s2, false)

	if s1.ID() == s2.ID() {
		t.Error("different passwords shared a session")
	}
	if n := atomic.LoadInt32(&opens); n != 2 {
		t.Errorf("opener called %d times, want 2", n)
	}
}

func TestConcurrentAcquireSingleFlight(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	const workers = 8
	ids := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Acquire(context.Background(), desc)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			ids[s.ID()] = true
			mu.Unlock()
			m.Release(s, false)
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Errorf("saw %d distinct sessions, want 1", len(ids))
	}
	if n := atomic.LoadInt32(&opens); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
}

func TestCheckoutIsExclusive(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	s, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, desc); !errors.IsCode(err, errors.ErrCodeSessionBusy) {
		t.Errorf("concurrent acquire: err = %v, want session busy", err)
	}

	m.Release(s, false)
	s2, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	m.Release(s2, false)
}

func TestFailedProbeRebuildsOnce(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	s1, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s1, false)

	// Next probe fails; the ping of the rebuilt session succeeds.
	script.PingErrs = []error{fmt.Errorf("connection reset by peer")}

	s2, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire with failing probe: %v", err)
	}
	m.Release(s2, false)

	if s1.ID() == s2.ID() {
		t.Error("rebuilt session kept the old identity")
	}
	if n := atomic.LoadInt32(&opens); n != 2 {
		t.Errorf("opener called %d times, want 2 (initial + rebuild)", n)
	}
}

func TestFailedRebuildSurfacesConnectionError(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	s1, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s1, false)

	// Probe fails, and so does the verification ping of the rebuild.
	script.PingErrs = []error{
		fmt.Errorf("connection reset by peer"),
		fmt.Errorf("connection refused"),
	}

	if _, err := m.Acquire(context.Background(), desc); !errors.IsKind(err, errors.KindConnection) {
		t.Fatalf("err = %v, want connection kind", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed entry still cached, len = %d", m.Len())
	}

	// The descriptor is usable again once the server recovers.
	s3, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	m.Release(s3, false)
}

func TestEstablishFailureIsNotCached(t *testing.T) {
	var opens int32
	script := &drivertest.Script{
		OpenErrs: []error{fmt.Errorf("connection refused")},
	}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	if _, err := m.Acquire(context.Background(), desc); !errors.IsKind(err, errors.KindConnection) {
		t.Fatalf("err = %v, want connection kind", err)
	}
	if m.Len() != 0 {
		t.Error("failed establishment left a cache entry")
	}

	s, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	m.Release(s, false)
}

func TestBrokenReleaseDropsSession(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	s1, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s1, true)

	if m.Len() != 0 {
		t.Errorf("broken session still cached, len = %d", m.Len())
	}

	s2, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire after invalidation: %v", err)
	}
	m.Release(s2, false)
	if s1.ID() == s2.ID() {
		t.Error("invalidated session was reused")
	}
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{
		Opener:      testOpener(script, &opens),
		Clock:       clock,
		IdleTimeout: time.Minute,
	})

	s1, err := m.Acquire(context.Background(), Descriptor{User: "a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s1, false)

	now = now.Add(30 * time.Second)
	s2, err := m.Acquire(context.Background(), Descriptor{User: "b"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s2, false)

	// Only the first session has been idle past the threshold.
	if n := m.EvictIdle(now.Add(45 * time.Second)); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}

	if n := m.EvictIdle(now.Add(2 * time.Minute)); n != 1 {
		t.Errorf("second sweep evicted %d, want 1", n)
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestEvictIdleSkipsCheckedOut(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{
		Opener:      testOpener(script, &opens),
		Clock:       func() time.Time { return now },
		IdleTimeout: time.Minute,
	})

	s, err := m.Acquire(context.Background(), Descriptor{User: "a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(s, false)

	if n := m.EvictIdle(now.Add(time.Hour)); n != 0 {
		t.Errorf("evicted %d checked-out sessions, want 0", n)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestMaxSessionsEvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{
		Opener:      testOpener(script, &opens),
		Clock:       func() time.Time { return now },
		MaxSessions: 2,
	})

	sa, _ := m.Acquire(context.Background(), Descriptor{User: "a"})
	m.Release(sa, false)
	now = now.Add(time.Second)
	sb, _ := m.Acquire(context.Background(), Descriptor{User: "b"})
	m.Release(sb, false)
	now = now.Add(time.Second)

	sc, err := m.Acquire(context.Background(), Descriptor{User: "c"})
	if err != nil {
		t.Fatalf("acquire over capacity: %v", err)
	}
	m.Release(sc, false)

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
	// "a" was the LRU victim; re-acquiring it dials fresh.
	before := atomic.LoadInt32(&opens)
	s, err := m.Acquire(context.Background(), Descriptor{User: "a"})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	m.Release(s, false)
	if atomic.LoadInt32(&opens) != before+1 {
		t.Error("evicted session was still cached")
	}
}

func TestMaxSessionsAllBusy(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens), MaxSessions: 1})

	s, err := m.Acquire(context.Background(), Descriptor{User: "a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(s, false)

	if _, err := m.Acquire(context.Background(), Descriptor{User: "b"}); !errors.IsCode(err, errors.ErrCodeSessionBusy) {
		t.Errorf("err = %v, want session busy", err)
	}
}

func TestInvalidate(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := newTestManager(t, Config{Opener: testOpener(script, &opens)})
	desc := Descriptor{User: "sa"}

	s, err := m.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s, false)

	if !m.Invalidate(desc) {
		t.Error("Invalidate reported no session")
	}
	if m.Len() != 0 {
		t.Errorf("len = %d after invalidate", m.Len())
	}
	if m.Invalidate(desc) {
		t.Error("second Invalidate reported a session")
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	var opens int32
	script := &drivertest.Script{}
	m := NewManager(Config{Opener: testOpener(script, &opens)})

	s, err := m.Acquire(context.Background(), Descriptor{User: "sa"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(s, false)
	m.Close()

	if _, err := m.Acquire(context.Background(), Descriptor{User: "sa"}); err == nil {
		t.Error("acquire succeeded on a closed manager")
	}
	if script.Closes() == 0 {
		t.Error("close left sessions open")
	}
}
