package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/normalize"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/similarity"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

// Admitter writes fresh evaluations into the store and the index.
//
// Contract:
//   - Concurrency: admissions are serialized; lookups are never blocked.
//   - Uniqueness: a duplicate input converges on the stored record and its
//     original result. The index is not touched and hit_count is unchanged.
//   - Atomicity: a record is either fully stored and indexed or not created.
type Admitter struct {
	store  store.Store
	index  *similarity.Index
	norm   *normalize.Normalizer
	cfg    Config
	logger *slog.Logger
	rec    Recorder
	scorer func(string) int

	mu sync.Mutex
}

// NewAdmitter wires an admitter over an existing store and index.
func NewAdmitter(st store.Store, ix *similarity.Index, norm *normalize.Normalizer, cfg Config, opts ...Option) *Admitter {
	o := newOptions(opts)
	return &Admitter{
		store:  st,
		index:  ix,
		norm:   norm,
		cfg:    cfg,
		logger: o.logger,
		rec:    o.recorder,
		scorer: o.scorer,
	}
}

// Admit stores result for raw. created is false when raw was already stored,
// in which case the existing record is returned unchanged.
func (a *Admitter) Admit(ctx context.Context, raw, result string) (*model.Record, bool, error) {
	norm, err := checkInput(a.norm, a.cfg, raw)
	if err != nil {
		return nil, false, err
	}

	score := a.scorer(result)
	golden := a.cfg.GoldenMinScore > 0 && score >= a.cfg.GoldenMinScore

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, created, err := a.store.Put(ctx, store.PutParams{
		InputText:      raw,
		NormalizedText: norm,
		Result:         result,
		Golden:         golden,
		Score:          score,
	})
	if err != nil {
		return nil, false, fmt.Errorf("admit: %w", err)
	}

	if !created {
		a.logger.InfoContext(ctx, "duplicate admission converged", "id", rec.ID, "input", preview(raw))
		a.rec.RecordAdmission(ctx, false, rec.Golden)
		return rec, false, nil
	}

	a.index.Insert(rec.ID, rec.NormalizedText)
	a.logger.DebugContext(ctx, "admitted", "id", rec.ID, "score", rec.Score, "golden", rec.Golden)
	a.rec.RecordAdmission(ctx, true, rec.Golden)
	return rec, true, nil
}
