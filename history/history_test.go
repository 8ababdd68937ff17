package history

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := New(Config{Path: ":memory:", MaxOpenConns: 1, MaxEntries: maxEntries})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(q string, at time.Time) Entry {
	return Entry{
		ExecutedAt: at,
		Target:     "sa@localhost:1433/master",
		Query:      q,
		Rows:       3,
		Duration:   12 * time.Millisecond,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, q := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		if err := s.Record(ctx, entry(q, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Query != "SELECT 3" || got[1].Query != "SELECT 2" {
		t.Errorf("order wrong: %q, %q", got[0].Query, got[1].Query)
	}
	if !got[0].ExecutedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("timestamp = %v", got[0].ExecutedAt)
	}
	if got[0].Duration != 12*time.Millisecond {
		t.Errorf("duration = %v", got[0].Duration)
	}
}

func TestRecordError(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	e := entry("SELECT * FROM NoSuchTable", time.Now())
	e.Rows = 0
	e.Error = "query error 3001: server rejected query"
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got[0].Error == "" {
		t.Error("error column not persisted")
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	now := time.Now()

	for _, q := range []string{
		"SELECT * FROM Person",
		"SELECT * FROM Orders",
		"UPDATE Person SET Active = 1",
	} {
		if err := s.Record(ctx, entry(q, now)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Search(ctx, "Person", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("matched %d entries, want 2", len(got))
	}

	// LIKE metacharacters in the term must match literally.
	if err := s.Record(ctx, entry("SELECT '100%' AS pct", now)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err = s.Search(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("literal %% search matched %d entries, want 1", len(got))
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		q := "SELECT " + string(rune('A'+i))
		if err := s.Record(ctx, entry(q, now)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("kept %d entries, want 3", len(got))
	}
	if got[0].Query != "SELECT E" || got[2].Query != "SELECT C" {
		t.Errorf("pruned wrong entries: %q .. %q", got[0].Query, got[2].Query)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	if err := s.Record(ctx, entry("SELECT 1", time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}
	got, _ := s.Recent(ctx, 10)
	if len(got) != 0 {
		t.Errorf("%d entries after clear", len(got))
	}
}
