// Package service runs the full evaluation flow: cache lookup, remote
// evaluation on a miss, and admission of the fresh result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/cache"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/evaluator"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/normalize"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/similarity"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

// ErrNoEvaluator is returned by operations that need a remote evaluator when
// none is configured.
var ErrNoEvaluator = errors.New("service: no remote evaluator configured")

// Recorder receives cache and remote-call events.
type Recorder interface {
	cache.Recorder
	RecordRemoteCall(ctx context.Context, duration time.Duration, err error)
}

// Options configures a Service.
type Options struct {
	Cache     cache.Config
	Normalize normalize.Options

	// Evaluator answers misses. Nil limits the service to lookups and
	// administration.
	Evaluator evaluator.Evaluator

	// RemoteTimeout bounds a remote call that outlives its callers.
	// Default: evaluator.DefaultTimeout
	RemoteTimeout time.Duration

	Logger   *slog.Logger
	Recorder Recorder
}

// Service owns the store and the index built from it.
type Service struct {
	store  store.Store
	index  *similarity.Index
	norm   *normalize.Normalizer
	cfg    cache.Config
	coord  *cache.Coordinator
	adm    *cache.Admitter
	remote evaluator.Evaluator

	remoteTimeout time.Duration
	logger        *slog.Logger
	rec           Recorder
	flight        singleflight.Group
}

// Open builds the index from st and returns a ready Service. The Service
// takes ownership of st.
func Open(ctx context.Context, st store.Store, opts Options) (*Service, error) {
	if err := opts.Cache.Validate(); err != nil {
		return nil, err
	}
	ix, err := opts.Cache.NewIndex()
	if err != nil {
		return nil, err
	}
	if err := ix.Build(st.All(ctx)); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RemoteTimeout
	if timeout <= 0 {
		timeout = evaluator.DefaultTimeout
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithScorer(evaluator.ExtractScore),
	}
	if opts.Recorder != nil {
		cacheOpts = append(cacheOpts, cache.WithRecorder(opts.Recorder))
	}

	norm := normalize.New(opts.Normalize)
	s := &Service{
		store:         st,
		index:         ix,
		norm:          norm,
		cfg:           opts.Cache,
		coord:         cache.NewCoordinator(st, ix, norm, opts.Cache, cacheOpts...),
		adm:           cache.NewAdmitter(st, ix, norm, opts.Cache, cacheOpts...),
		remote:        opts.Evaluator,
		remoteTimeout: timeout,
		logger:        logger,
		rec:           opts.Recorder,
	}
	logger.DebugContext(ctx, "index built", "records", ix.Len(), "metric", ix.Metric().Name(),
		"normalization", norm.Version())
	return s, nil
}

// Assessment is the answer to Assess.
type Assessment struct {
	// Kind is the lookup outcome. Miss means the result is fresh.
	Kind   cache.Kind    `json:"kind"`
	Result string        `json:"result"`
	Score  float64       `json:"similarity"`
	Record *model.Record `json:"record,omitempty"`
}

func fromOutcome(out cache.Outcome) Assessment {
	return Assessment{Kind: out.Kind, Result: out.Record.Result, Score: out.Score, Record: out.Record}
}

// Evaluate looks raw up without calling the remote evaluator.
func (s *Service) Evaluate(ctx context.Context, raw string) (cache.Outcome, error) {
	return s.coord.Evaluate(ctx, raw)
}

// Assess returns a cached result for raw, or evaluates it remotely and admits
// the result. Concurrent misses on the same normalized text share one remote
// call. If ctx ends first, Assess returns ctx.Err(); the shared call keeps
// running and its complete result is still admitted.
func (s *Service) Assess(ctx context.Context, raw string) (Assessment, error) {
	out, err := s.coord.Evaluate(ctx, raw)
	if err != nil {
		return Assessment{}, err
	}
	if out.Hit() {
		return fromOutcome(out), nil
	}
	if s.remote == nil {
		return Assessment{}, ErrNoEvaluator
	}

	ch := s.flight.DoChan(out.Normalized, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.remoteTimeout)
		defer cancel()
		return s.evaluateAndAdmit(callCtx, raw)
	})

	select {
	case <-ctx.Done():
		s.logger.DebugContext(ctx, "caller abandoned remote evaluation", "error", ctx.Err())
		return Assessment{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Assessment{}, r.Err
		}
		return r.Val.(Assessment), nil
	}
}

func (s *Service) evaluateAndAdmit(ctx context.Context, raw string) (Assessment, error) {
	// A flight that finished between our lookup and joining may have
	// admitted this text already.
	if out, err := s.coord.Lookup(ctx, raw); err != nil {
		return Assessment{}, err
	} else if out.Hit() {
		return fromOutcome(out), nil
	}

	result, err := s.callRemote(ctx, raw)
	if err != nil {
		return Assessment{}, err
	}

	rec, _, err := s.adm.Admit(ctx, raw, result)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{Kind: cache.Miss, Result: rec.Result, Record: rec}, nil
}

func (s *Service) callRemote(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	result, err := s.remote.Evaluate(ctx, raw)
	if s.rec != nil {
		s.rec.RecordRemoteCall(ctx, time.Since(start), err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "remote evaluation failed", "error", err)
		return "", err
	}
	return result, nil
}

// Admit stores a result obtained outside the service.
func (s *Service) Admit(ctx context.Context, raw, result string) (*model.Record, bool, error) {
	return s.adm.Admit(ctx, raw, result)
}

// Refresh evaluates raw remotely and replaces the stored result of the record
// whose input text is exactly raw, or admits a new record when none is. The record keeps its
// id and texts, so the index is unaffected.
func (s *Service) Refresh(ctx context.Context, raw string) (*model.Record, error) {
	norm, err := s.coord.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if s.remote == nil {
		return nil, ErrNoEvaluator
	}

	result, err := s.callRemote(ctx, raw)
	if err != nil {
		return nil, err
	}

	// FindExact prefers a byte-identical input; any other match is only
	// normalized-equal and must not be overwritten.
	existing, err := s.store.FindExact(ctx, raw, norm)
	if err == nil && existing.InputText != raw {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		rec, _, err := s.adm.Admit(ctx, raw, result)
		return rec, err
	}
	if err != nil {
		return nil, err
	}

	score := evaluator.ExtractScore(result)
	if err := s.store.UpdateResult(ctx, existing.ID, result, score); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", existing.ID, err)
	}
	if s.cfg.GoldenMinScore > 0 && score >= s.cfg.GoldenMinScore && !existing.Golden {
		if err := s.store.SetGolden(ctx, existing.ID, true); err != nil {
			return nil, fmt.Errorf("refresh %s: %w", existing.ID, err)
		}
	}
	s.logger.InfoContext(ctx, "refreshed", "id", existing.ID, "score", score)
	return s.store.Get(ctx, existing.ID)
}

// Get returns the record with id.
func (s *Service) Get(ctx context.Context, id string) (*model.Record, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a record from the store and the index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.index.Remove(id)
	return nil
}

// Promote marks or unmarks a record as golden.
func (s *Service) Promote(ctx context.Context, id string, golden bool) error {
	return s.store.SetGolden(ctx, id, golden)
}

// Rebuild reloads the index from the store.
func (s *Service) Rebuild(ctx context.Context) error {
	return s.index.Build(s.store.All(ctx))
}

// Renormalize recomputes every stored normalized text under the current rules
// and rebuilds the index. It returns the number of records changed.
func (s *Service) Renormalize(ctx context.Context) (int, error) {
	records, err := store.Export(ctx, s.store)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, rec := range records {
		norm := s.norm.Normalize(rec.InputText)
		if norm == rec.NormalizedText {
			continue
		}
		if norm == "" {
			s.logger.WarnContext(ctx, "record normalizes to empty text, left unchanged", "id", rec.ID)
			continue
		}
		if err := s.store.UpdateNormalized(ctx, rec.ID, norm); err != nil {
			return changed, err
		}
		changed++
	}

	if err := s.Rebuild(ctx); err != nil {
		return changed, err
	}
	s.logger.InfoContext(ctx, "renormalized", "changed", changed, "normalization", s.norm.Version())
	return changed, nil
}

// Stats extends the store counters with index state.
type Stats struct {
	model.Stats
	IndexedRecords int    `json:"indexed_records"`
	Metric         string `json:"metric"`
	Normalization  string `json:"normalization_version"`
}

// Stats returns aggregate counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Stats:          *st,
		IndexedRecords: s.index.Len(),
		Metric:         s.index.Metric().Name(),
		Normalization:  s.norm.Version(),
	}, nil
}

// Export returns every record in id order.
func (s *Service) Export(ctx context.Context) ([]model.Record, error) {
	return store.Export(ctx, s.store)
}

// Import admits exported records. Records whose input is already stored or
// invalid are skipped. Golden marks are carried over.
func (s *Service) Import(ctx context.Context, records []model.Record) (imported, skipped int, err error) {
	for _, r := range records {
		rec, created, err := s.adm.Admit(ctx, r.InputText, r.Result)
		if errors.Is(err, cache.ErrInvalidInput) {
			skipped++
			continue
		}
		if err != nil {
			return imported, skipped, err
		}
		if !created {
			skipped++
			continue
		}
		if r.Golden && !rec.Golden {
			if err := s.store.SetGolden(ctx, rec.ID, true); err != nil {
				return imported, skipped, err
			}
		}
		imported++
	}
	return imported, skipped, nil
}

type searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.Record, error)
}

// Search returns records whose normalized text contains the normalized
// query, newest first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]model.Record, error) {
	ss, ok := s.store.(searcher)
	if !ok {
		return nil, fmt.Errorf("search: not supported by %T", s.store)
	}
	q := s.norm.Normalize(query)
	if q == "" {
		return nil, nil
	}
	return ss.Search(ctx, q, limit)
}

// Close closes the store.
func (s *Service) Close() error {
	return s.store.Close()
}
