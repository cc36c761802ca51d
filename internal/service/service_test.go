package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/cache"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/evaluator"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/normalize"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

// fakeRemote answers with a fixed result after an optional gate.
type fakeRemote struct {
	calls   atomic.Int32
	result  string
	err     error
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeRemote) Evaluate(ctx context.Context, story string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

// lookupCounter counts lookup events by outcome.
type lookupCounter struct {
	mu      sync.Mutex
	lookups map[string]int
	remote  int
}

func (c *lookupCounter) RecordLookup(_ context.Context, kind string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookups == nil {
		c.lookups = map[string]int{}
	}
	c.lookups[kind]++
}

func (c *lookupCounter) RecordAdmission(context.Context, bool, bool) {}

func (c *lookupCounter) RecordRemoteCall(context.Context, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote++
}

func openStore(t *testing.T, path string) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return st
}

func newTestService(t *testing.T, remote evaluator.Evaluator) *Service {
	t.Helper()
	return openService(t, openStore(t, filepath.Join(t.TempDir(), "test.db")), remote, normalize.DefaultOptions())
}

func openService(t *testing.T, st store.Store, remote evaluator.Evaluator, norm normalize.Options) *Service {
	t.Helper()
	svc, err := Open(context.Background(), st, Options{
		Cache:     cache.DefaultConfig(),
		Normalize: norm,
		Evaluator: remote,
	})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func recordCount(t *testing.T, svc *Service) int {
	t.Helper()
	recs, err := svc.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	return len(recs)
}

func TestAssess_MissThenHit(t *testing.T) {
	remote := &fakeRemote{result: "Оценка: 5/6"}
	svc := newTestService(t, remote)
	ctx := context.Background()

	got, err := svc.Assess(ctx, "As a user, I want to log in")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if got.Kind != cache.Miss || got.Result != "Оценка: 5/6" || got.Record == nil {
		t.Fatalf("expected fresh result, got %+v", got)
	}
	if got.Record.Score != 5 {
		t.Errorf("expected extracted score 5, got %d", got.Record.Score)
	}

	got, err = svc.Assess(ctx, "As a user, I want to log in")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != cache.ExactHit || got.Result != "Оценка: 5/6" {
		t.Errorf("expected exact hit, got %+v", got)
	}

	got, err = svc.Assess(ctx, "As a user, I want to log inn")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != cache.FuzzyHit {
		t.Errorf("expected fuzzy hit, got %v", got.Kind)
	}
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("expected 1 remote call, got %d", n)
	}
}

func TestAssess_RecordsOneLookupPerCall(t *testing.T) {
	rec := &lookupCounter{}
	svc, err := Open(context.Background(), openStore(t, filepath.Join(t.TempDir(), "test.db")), Options{
		Cache:     cache.DefaultConfig(),
		Normalize: normalize.DefaultOptions(),
		Evaluator: &fakeRemote{result: "Оценка: 4/6"},
		Recorder:  rec,
	})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	ctx := context.Background()

	if _, err := svc.Assess(ctx, "As a user, I want to log in"); err != nil {
		t.Fatalf("assess: %v", err)
	}
	if _, err := svc.Assess(ctx, "As a user, I want to log in"); err != nil {
		t.Fatalf("assess: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lookups["miss"] != 1 || rec.lookups["exact_hit"] != 1 {
		t.Errorf("expected one miss and one exact hit, got %v", rec.lookups)
	}
	if rec.remote != 1 {
		t.Errorf("expected 1 remote call recorded, got %d", rec.remote)
	}
}

func TestAssess_ConcurrentMissesShareOneCall(t *testing.T) {
	remote := &fakeRemote{result: "R", gate: make(chan struct{}), started: make(chan struct{})}
	svc := newTestService(t, remote)

	const callers = 10
	results := make([]Assessment, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Assess(context.Background(), "As a user, I want to export a report")
		}(i)
	}

	<-remote.started
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Result != "R" || results[i].Record.ID != results[0].Record.ID {
			t.Errorf("caller %d diverged: %+v", i, results[i])
		}
	}
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("expected 1 remote call, got %d", n)
	}
	if n := recordCount(t, svc); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestAssess_CancelLeavesNoState(t *testing.T) {
	remote := &fakeRemote{
		err:     fmt.Errorf("%w: connection reset", evaluator.ErrRemoteUnavailable),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	svc := newTestService(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Assess(ctx, "As a user, I want to log in")
		done <- err
	}()

	<-remote.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := recordCount(t, svc); n != 0 {
		t.Errorf("expected no record while remote is pending, got %d", n)
	}

	close(remote.gate)
	time.Sleep(20 * time.Millisecond)
	if n := recordCount(t, svc); n != 0 {
		t.Errorf("expected no record after failed remote call, got %d", n)
	}
	if svc.index.Len() != 0 {
		t.Errorf("expected empty index, got %d", svc.index.Len())
	}
}

func TestAssess_AbandonedCallStillAdmitsCompleteResult(t *testing.T) {
	remote := &fakeRemote{result: "R", gate: make(chan struct{}), started: make(chan struct{})}
	svc := newTestService(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Assess(ctx, "As a user, I want to log in")
		done <- err
	}()

	<-remote.started
	cancel()
	<-done
	close(remote.gate)

	deadline := time.Now().Add(2 * time.Second)
	for recordCount(t, svc) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected the completed result to be admitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	out, err := svc.Evaluate(context.Background(), "As a user, I want to log in")
	if err != nil || out.Kind != cache.ExactHit || out.Record.Result != "R" {
		t.Errorf("expected exact hit on admitted result, got %+v, %v", out, err)
	}
}

func TestAssess_RemoteErrorsPropagate(t *testing.T) {
	for _, sentinel := range []error{evaluator.ErrRemoteTimeout, evaluator.ErrRemoteUnavailable} {
		remote := &fakeRemote{err: fmt.Errorf("%w: test", sentinel)}
		svc := newTestService(t, remote)

		_, err := svc.Assess(context.Background(), "As a user, I want to log in")
		if !errors.Is(err, sentinel) {
			t.Errorf("expected %v, got %v", sentinel, err)
		}
		if n := recordCount(t, svc); n != 0 {
			t.Errorf("expected no record after remote failure, got %d", n)
		}
	}
}

func TestAssess_InvalidInputAndNoEvaluator(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Assess(ctx, "   "); !errors.Is(err, cache.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Assess(ctx, "As a user, I want to log in"); !errors.Is(err, ErrNoEvaluator) {
		t.Errorf("expected ErrNoEvaluator, got %v", err)
	}

	svc.Admit(ctx, "As a user, I want to log in", "R1")
	got, err := svc.Assess(ctx, "As a user, I want to log in")
	if err != nil || got.Result != "R1" {
		t.Errorf("expected cached answer without evaluator, got %+v, %v", got, err)
	}
}

func TestRefresh(t *testing.T) {
	remote := &fakeRemote{result: "Оценка: 6/6"}
	svc := newTestService(t, remote)
	ctx := context.Background()

	old, _, err := svc.Admit(ctx, "As a user, I want to log in", "Оценка: 3/6")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Refresh(ctx, "As a user, I want to log in")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.ID != old.ID || rec.Result != "Оценка: 6/6" || rec.Score != 6 {
		t.Errorf("expected payload replaced in place, got %+v", rec)
	}
	if rec.InputText != old.InputText || rec.NormalizedText != old.NormalizedText {
		t.Errorf("texts must not change: %+v", rec)
	}

	fresh, err := svc.Refresh(ctx, "As an admin, I want to ban users")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Result != "Оценка: 6/6" || recordCount(t, svc) != 2 {
		t.Errorf("expected refresh of unknown text to admit it, got %+v", fresh)
	}
}

func TestRefresh_NormalizedEqualInputIsNotOverwritten(t *testing.T) {
	remote := &fakeRemote{result: "Оценка: 6/6"}
	svc := newTestService(t, remote)
	ctx := context.Background()

	old, _, err := svc.Admit(ctx, "As a user, I want to log in", "Оценка: 3/6")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Refresh(ctx, "as a user i want to log in")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.ID == old.ID || rec.InputText != "as a user i want to log in" {
		t.Errorf("expected a new record for the refreshed text, got %+v", rec)
	}

	kept, err := svc.Get(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kept.Result != "Оценка: 3/6" {
		t.Errorf("normalized-equal record must keep its result, got %q", kept.Result)
	}
	if n := recordCount(t, svc); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestDeleteCascadesToIndex(t *testing.T) {
	remote := &fakeRemote{result: "R2"}
	svc := newTestService(t, remote)
	ctx := context.Background()

	rec, _, _ := svc.Admit(ctx, "As a user, I want to log in", "R1")
	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if svc.index.Len() != 0 {
		t.Errorf("expected index entry removed, got %d", svc.index.Len())
	}
	if err := svc.Delete(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := svc.Assess(ctx, "As a user, I want to log inn")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != cache.Miss || got.Result != "R2" {
		t.Errorf("expected deleted record never to be served, got %+v", got)
	}
}

func TestOpenBuildsIndexFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := Open(ctx, openStore(t, path), Options{Cache: cache.DefaultConfig(), Normalize: normalize.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	first.Admit(ctx, "As a user, I want to log in", "R1")
	first.Admit(ctx, "As an admin, I want to ban users", "R2")
	first.Close()

	svc := openService(t, openStore(t, path), nil, normalize.DefaultOptions())
	if svc.index.Len() != 2 {
		t.Fatalf("expected 2 indexed records, got %d", svc.index.Len())
	}
	out, err := svc.Evaluate(ctx, "As a user, I want to log inn")
	if err != nil || out.Kind != cache.FuzzyHit {
		t.Errorf("expected fuzzy hit after reopen, got %+v, %v", out, err)
	}
}

func TestRenormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	raw, err := Open(ctx, openStore(t, path), Options{Cache: cache.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	rec, _, err := raw.Admit(ctx, "As a User, I want to LOG IN!", "R1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.NormalizedText != "As a User, I want to LOG IN!" {
		t.Fatalf("expected untouched text without rules, got %q", rec.NormalizedText)
	}
	raw.Close()

	svc := openService(t, openStore(t, path), nil, normalize.DefaultOptions())
	changed, err := svc.Renormalize(ctx)
	if err != nil {
		t.Fatalf("renormalize: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected 1 changed record, got %d", changed)
	}

	got, _ := svc.Get(ctx, rec.ID)
	if got.NormalizedText != "as a user i want to log in" {
		t.Errorf("unexpected normalized text %q", got.NormalizedText)
	}
	out, err := svc.Evaluate(ctx, "as a user i want to log in")
	if err != nil || out.Kind != cache.ExactHit {
		t.Errorf("expected exact hit under new rules, got %+v, %v", out, err)
	}

	if changed, _ := svc.Renormalize(ctx); changed != 0 {
		t.Errorf("expected second pass to change nothing, got %d", changed)
	}
}

func TestImportExport(t *testing.T) {
	src := newTestService(t, nil)
	ctx := context.Background()

	a, _, _ := src.Admit(ctx, "As a user, I want to log in", "Оценка: 6/6")
	src.Admit(ctx, "As an admin, I want to ban users", "Оценка: 2/6")
	if err := src.Promote(ctx, a.ID, true); err != nil {
		t.Fatal(err)
	}

	exported, err := src.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	exported = append(exported, model.Record{InputText: "  ", Result: "bad"})

	dst := newTestService(t, nil)
	dst.Admit(ctx, "As an admin, I want to ban users", "existing")

	imported, skipped, err := dst.Import(ctx, exported)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported != 1 || skipped != 2 {
		t.Errorf("expected 1 imported and 2 skipped, got %d and %d", imported, skipped)
	}

	out, err := dst.Evaluate(ctx, "As a user, I want to log in")
	if err != nil || !out.Record.Golden || out.Record.Score != 6 {
		t.Errorf("expected golden record with score 6, got %+v, %v", out.Record, err)
	}
	out, _ = dst.Evaluate(ctx, "As an admin, I want to ban users")
	if out.Record.Result != "existing" {
		t.Errorf("import must not overwrite existing records, got %q", out.Record.Result)
	}
}

func TestStatsAndSearch(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	svc.Admit(ctx, "As a user, I want to log in", "R1")
	svc.Admit(ctx, "As an admin, I want to LOG every action", "R2")
	svc.Evaluate(ctx, "As a user, I want to log in")

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalRecords != 2 || st.TotalHits != 1 || st.IndexedRecords != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Metric != "levenshtein" || st.Normalization == "" {
		t.Errorf("expected index details, got %+v", st)
	}

	found, err := svc.Search(ctx, "log", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 search results, got %d", len(found))
	}

	svc.Admit(ctx, "Как Пользователь я хочу войти, чтобы работать", "R3")
	for _, q := range []string{"пользователь", "Пользователь", "ПОЛЬЗОВАТЕЛЬ"} {
		found, err = svc.Search(ctx, q, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 1 || found[0].Result != "R3" {
			t.Errorf("search %q: expected R3, got %+v", q, found)
		}
	}

	found, err = svc.Search(ctx, "?!", 10)
	if err != nil || len(found) != 0 {
		t.Errorf("expected no results for punctuation-only query, got %v, %v", found, err)
	}
}
