package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/normalize"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/similarity"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

// Kind is the outcome of a lookup.
type Kind int

const (
	Miss Kind = iota
	ExactHit
	FuzzyHit
)

func (k Kind) String() string {
	switch k {
	case ExactHit:
		return "exact_hit"
	case FuzzyHit:
		return "fuzzy_hit"
	default:
		return "miss"
	}
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of Coordinator.Evaluate.
type Outcome struct {
	Kind Kind `json:"kind"`

	// Record is the stored record that answered the lookup. Nil on Miss.
	Record *model.Record `json:"record,omitempty"`

	// Score is the similarity of the match: 1 for exact hits, 0 on Miss.
	Score float64 `json:"score"`

	// Normalized is the normalized form of the input.
	Normalized string `json:"normalized"`
}

// Hit reports whether a stored result can be reused.
func (o Outcome) Hit() bool {
	return o.Kind != Miss
}

// Coordinator decides between exact hit, fuzzy hit and miss. Each call is
// independent; the coordinator holds no lock while reading the store.
type Coordinator struct {
	store  store.Store
	index  *similarity.Index
	norm   *normalize.Normalizer
	cfg    Config
	logger *slog.Logger
	rec    Recorder
}

// NewCoordinator wires a coordinator over an existing store and index.
func NewCoordinator(st store.Store, ix *similarity.Index, norm *normalize.Normalizer, cfg Config, opts ...Option) *Coordinator {
	o := newOptions(opts)
	return &Coordinator{
		store:  st,
		index:  ix,
		norm:   norm,
		cfg:    cfg,
		logger: o.logger,
		rec:    o.recorder,
	}
}

// Normalize returns the normalized form of raw, or ErrInvalidInput.
func (c *Coordinator) Normalize(raw string) (string, error) {
	return checkInput(c.norm, c.cfg, raw)
}

func checkInput(n *normalize.Normalizer, cfg Config, raw string) (string, error) {
	if cfg.MaxInputLength > 0 {
		if l := utf8.RuneCountInString(raw); l > cfg.MaxInputLength {
			return "", fmt.Errorf("%w: %d runes, maximum is %d", ErrInvalidInput, l, cfg.MaxInputLength)
		}
	}
	norm := n.Normalize(raw)
	if norm == "" {
		return "", fmt.Errorf("%w: empty after normalization", ErrInvalidInput)
	}
	if l := utf8.RuneCountInString(norm); l < cfg.MinInputLength {
		return "", fmt.Errorf("%w: %d runes, minimum is %d", ErrInvalidInput, l, cfg.MinInputLength)
	}
	return norm, nil
}

// Evaluate looks raw up in the cache and records the outcome. A hit records a
// use of the matched record. Store failures are returned; a miss is not an
// error.
func (c *Coordinator) Evaluate(ctx context.Context, raw string) (Outcome, error) {
	out, err := c.Lookup(ctx, raw)
	if err != nil {
		return Outcome{}, err
	}
	c.rec.RecordLookup(ctx, out.Kind.String(), out.Score)
	return out, nil
}

// Lookup is Evaluate without the lookup metric. It serves re-checks of a
// lookup that was already counted.
func (c *Coordinator) Lookup(ctx context.Context, raw string) (Outcome, error) {
	norm, err := c.Normalize(raw)
	if err != nil {
		return Outcome{}, err
	}

	rec, err := c.store.FindExact(ctx, raw, norm)
	switch {
	case err == nil:
		if err := c.recordHit(ctx, rec); err != nil {
			return Outcome{}, err
		}
		c.logger.DebugContext(ctx, "exact hit", "id", rec.ID, "input", preview(raw))
		return Outcome{Kind: ExactHit, Record: rec, Score: 1, Normalized: norm}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Outcome{}, fmt.Errorf("exact lookup: %w", err)
	}

	miss := Outcome{Kind: Miss, Normalized: norm}
	if utf8.RuneCountInString(norm) < c.cfg.MinFuzzyLength {
		c.logger.DebugContext(ctx, "miss, too short for fuzzy match", "input", preview(raw))
		return miss, nil
	}

	best, score, err := c.bestCandidate(ctx, norm)
	if err != nil {
		return Outcome{}, err
	}
	if best == nil {
		c.logger.DebugContext(ctx, "miss", "input", preview(raw))
		return miss, nil
	}

	if err := c.recordHit(ctx, best); err != nil {
		return Outcome{}, err
	}
	c.logger.DebugContext(ctx, "fuzzy hit", "id", best.ID, "score", score, "input", preview(raw))
	return Outcome{Kind: FuzzyHit, Record: best, Score: score, Normalized: norm}, nil
}

type candidate struct {
	rec   *model.Record
	score float64
}

// bestCandidate returns the accepted record among the index matches at or
// above the threshold, or nil. Index entries whose record is gone are pruned
// and the lookup is repeated.
func (c *Coordinator) bestCandidate(ctx context.Context, norm string) (*model.Record, float64, error) {
	for {
		matches := c.index.BestMatches(norm, c.cfg.TopK, c.cfg.Threshold)
		if len(matches) == 0 {
			return nil, 0, nil
		}

		var found []candidate
		pruned := 0
		for _, m := range matches {
			rec, err := c.store.Get(ctx, m.ID)
			if errors.Is(err, store.ErrNotFound) {
				c.logger.WarnContext(ctx, "pruning stale index entry", "id", m.ID)
				c.index.Remove(m.ID)
				pruned++
				continue
			}
			if err != nil {
				return nil, 0, fmt.Errorf("load candidate: %w", err)
			}
			found = append(found, candidate{rec: rec, score: m.Score})
		}

		if len(found) > 0 {
			best := c.choose(found)
			return best.rec, best.score, nil
		}
		if pruned == 0 {
			return nil, 0, nil
		}
	}
}

// choose picks among candidates already ordered by similarity.
func (c *Coordinator) choose(found []candidate) candidate {
	if !c.cfg.PreferGolden {
		return found[0]
	}
	var best *candidate
	for i := range found {
		cand := &found[i]
		if !cand.rec.Golden {
			continue
		}
		if best == nil || cand.rec.Score > best.rec.Score {
			best = cand
		}
	}
	if best != nil {
		return *best
	}
	return found[0]
}

// recordHit updates hit bookkeeping. A record deleted in the meantime is
// logged and ignored.
func (c *Coordinator) recordHit(ctx context.Context, rec *model.Record) error {
	err := c.store.RecordHit(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.WarnContext(ctx, "hit on vanished record", "id", rec.ID)
		c.index.Remove(rec.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record hit: %w", err)
	}

	now := time.Now().UTC()
	c.index.Touch(rec.ID, now)
	rec.HitCount++
	rec.LastUsedAt = &now
	return nil
}
