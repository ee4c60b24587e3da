package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

func (s *memStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.entries) > limit {
		start = len(s.entries) - limit
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out, nil
}

func TestRecordAssignsMonotonicIDs(t *testing.T) {
	store := &memStore{}
	log, err := New(store, WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := WithClientIP(context.Background(), "10.0.0.1")
	for i := 0; i < 3; i++ {
		if err := log.Record(ctx, ActionLoginFailure, 7, "a@x.com"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := log.Recent(context.Background(), 500)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != int64(i+1) {
			t.Fatalf("entry %d has id %d", i, e.ID)
		}
		if e.IP != "10.0.0.1" || e.AccountID != 7 || e.Action != ActionLoginFailure {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
}

func TestRecentBounded(t *testing.T) {
	store := &memStore{}
	log, err := New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := log.Record(context.Background(), ActionRegister, int64(i+1), ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := log.Recent(context.Background(), 4)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].ID != 7 || entries[3].ID != 10 {
		t.Fatalf("expected the most recent window, got ids %d..%d", entries[0].ID, entries[3].ID)
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	log, err := New(&memStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := log.Record(context.Background(), "  ", 0, ""); err == nil {
		t.Fatal("empty action accepted")
	}
}
