package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSearch_Basic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "As a user, I want to log in", "as a user i want to log in", "R1")
	put(t, s, "As an admin, I want to LOG every action", "as an admin i want to log every action", "R2")
	put(t, s, "As a guest, I want to browse", "as a guest i want to browse", "R3")

	results, err := s.Search(ctx, "log", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Newest first.
	if results[0].Result != "R2" {
		t.Errorf("expected newest match first, got %q", results[0].Result)
	}

	results, err = s.Search(ctx, "log", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(results))
	}

	results, err = s.Search(ctx, "checkout", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
}

func TestSearch_Cyrillic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "Как Пользователь я хочу войти, чтобы работать", "как пользователь я хочу войти чтобы работать", "R1")
	put(t, s, "Как администратор я хочу банить", "как администратор я хочу банить", "R2")

	results, err := s.Search(ctx, "пользователь", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Result != "R1" {
		t.Fatalf("expected R1, got %+v", results)
	}
}

func TestSearch_WildcardsAreLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "As a user, I want 100% uptime", "as a user i want 100 uptime", "R1")
	put(t, s, "As a user, I want a user_id", "as a user i want a user_id", "R2")

	tests := []struct {
		query string
		want  int
	}{
		{"%", 0},
		{"user_id", 1},
		{"user%id", 0},
		{"a_user", 0},
	}
	for _, tt := range tests {
		results, err := s.Search(ctx, tt.query, 0)
		if err != nil {
			t.Fatalf("search %q: %v", tt.query, err)
		}
		if len(results) != tt.want {
			t.Errorf("search %q: expected %d results, got %d", tt.query, tt.want, len(results))
		}
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	a := put(t, s, "a", "a", "R")
	b := put(t, s, "b", "b", "R")
	put(t, s, "c", "c", "R")

	s.RecordHit(ctx, a.ID)
	s.RecordHit(ctx, a.ID)
	s.RecordHit(ctx, b.ID)
	s.UpdateResult(ctx, a.ID, "R", 6)
	s.SetGolden(ctx, a.ID, true)
	s.UpdateResult(ctx, b.ID, "R", 5)
	s.SetGolden(ctx, b.ID, true)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", stats.TotalRecords)
	}
	if stats.TotalHits != 3 {
		t.Errorf("expected 3 hits, got %d", stats.TotalHits)
	}
	if stats.GoldenRecords != 2 {
		t.Errorf("expected 2 golden, got %d", stats.GoldenRecords)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", stats.HitRate)
	}
	if stats.AvgScore != 5.5 {
		t.Errorf("expected avg golden score 5.5, got %f", stats.AvgScore)
	}
	if stats.Backend != "sqlite" || stats.Path != dbPath {
		t.Errorf("unexpected backend info: %+v", stats)
	}
	if stats.SizeBytes == 0 {
		t.Error("expected non-zero db size")
	}
}

func TestStats_Empty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 0 || stats.HitRate != 0 || stats.AvgScore != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}

func TestExport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := put(t, s, "alpha", "alpha", "R1")
	second := put(t, s, "beta", "beta", "R2")

	exported, err := Export(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported, got %d", len(exported))
	}
	if exported[0].ID != first.ID || exported[1].ID != second.ID {
		t.Errorf("expected creation order, got %s, %s", exported[0].ID, exported[1].ID)
	}

	empty := newTestStore(t)
	exported, err = Export(ctx, empty)
	if err != nil {
		t.Fatal(err)
	}
	if exported == nil || len(exported) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", exported)
	}
}
