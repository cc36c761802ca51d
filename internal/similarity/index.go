package similarity

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// TieBreak orders matches with equal scores.
type TieBreak int

const (
	// TieBreakID prefers the lower (older) record id.
	TieBreakID TieBreak = iota
	// TieBreakRecency prefers the most recently used record, then the lower id.
	TieBreakRecency
)

// ParseTieBreak parses "id" or "recency". Empty means TieBreakID.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "id":
		return TieBreakID, nil
	case "recency":
		return TieBreakRecency, nil
	default:
		return TieBreakID, fmt.Errorf("similarity: unknown tie break %q (valid: id, recency)", s)
	}
}

func (t TieBreak) String() string {
	if t == TieBreakRecency {
		return "recency"
	}
	return "id"
}

// boundSlack absorbs rounding between Bound and Score so pruning never drops
// a candidate that scores exactly at the floor.
const boundSlack = 1e-9

type entry struct {
	id       string
	text     string
	length   int
	lastUsed time.Time
}

// Index is an in-memory set of (id, normalized text) pairs. It is a derived
// view of the store and can be rebuilt from it at any time.
//
// Contract:
//   - Concurrency: safe for concurrent use; lookups share a read lock.
//   - Freshness: Insert and Remove are visible to the next BestMatches call.
type Index struct {
	metric   Metric
	tieBreak TieBreak

	mu       sync.RWMutex
	entries  map[string]*entry
	byLength map[int]map[string]*entry
}

// NewIndex creates an empty index scoring with metric.
func NewIndex(metric Metric, tieBreak TieBreak) *Index {
	if metric == nil {
		metric = Levenshtein{}
	}
	return &Index{
		metric:   metric,
		tieBreak: tieBreak,
		entries:  make(map[string]*entry),
		byLength: make(map[int]map[string]*entry),
	}
}

// Metric returns the metric the index scores with.
func (ix *Index) Metric() Metric {
	return ix.metric
}

// Build replaces the index contents with records. On error the previous
// contents are kept.
func (ix *Index) Build(records iter.Seq2[model.Record, error]) error {
	entries := make(map[string]*entry)
	byLength := make(map[int]map[string]*entry)

	for rec, err := range records {
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		e := newEntry(rec.ID, rec.NormalizedText)
		if rec.LastUsedAt != nil {
			e.lastUsed = *rec.LastUsedAt
		}
		entries[e.id] = e
		addToBucket(byLength, e)
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.byLength = byLength
	ix.mu.Unlock()
	return nil
}

// Insert adds or replaces the entry for id.
func (ix *Index) Insert(id, normalized string) {
	e := newEntry(id, normalized)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.entries[id]; ok {
		e.lastUsed = old.lastUsed
		removeFromBucket(ix.byLength, old)
	}
	ix.entries[id] = e
	addToBucket(ix.byLength, e)
}

// Remove drops id from the index. Removing an absent id is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.entries[id]; ok {
		removeFromBucket(ix.byLength, old)
		delete(ix.entries, id)
	}
}

// Touch records a use of id for recency tie-breaking.
func (ix *Index) Touch(id string, at time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.entries[id]; ok && at.After(e.lastUsed) {
		e.lastUsed = at
	}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// BestMatches returns up to k entries most similar to query, best first.
//
// Only matches scoring at least floor are returned. With floor > 0, length
// buckets whose metric bound falls below floor are skipped without scoring;
// the result is identical to a full scan filtered by floor. A floor of 0
// performs the full scan. k <= 0 returns every qualifying match.
func (ix *Index) BestMatches(query string, k int, floor float64) []model.Match {
	if query == "" {
		return nil
	}
	qlen := utf8.RuneCountInString(query)

	type candidate struct {
		e     *entry
		score float64
	}

	ix.mu.RLock()
	var found []candidate
	for length, bucket := range ix.byLength {
		if floor > 0 && ix.metric.Bound(qlen, length) < floor-boundSlack {
			continue
		}
		for _, e := range bucket {
			score := ix.metric.Score(query, e.text)
			if score < floor {
				continue
			}
			found = append(found, candidate{e: e, score: score})
		}
	}

	// Sorting reads lastUsed, which Touch mutates under the write lock.
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ix.tieBreak == TieBreakRecency && !a.e.lastUsed.Equal(b.e.lastUsed) {
			return a.e.lastUsed.After(b.e.lastUsed)
		}
		return a.e.id < b.e.id
	})
	ix.mu.RUnlock()

	if k > 0 && len(found) > k {
		found = found[:k]
	}
	matches := make([]model.Match, len(found))
	for i, c := range found {
		matches[i] = model.Match{ID: c.e.id, Score: c.score}
	}
	return matches
}

func newEntry(id, text string) *entry {
	return &entry{id: id, text: text, length: utf8.RuneCountInString(text)}
}

func addToBucket(byLength map[int]map[string]*entry, e *entry) {
	bucket, ok := byLength[e.length]
	if !ok {
		bucket = make(map[string]*entry)
		byLength[e.length] = bucket
	}
	bucket[e.id] = e
}

func removeFromBucket(byLength map[int]map[string]*entry, e *entry) {
	bucket, ok := byLength[e.length]
	if !ok {
		return
	}
	delete(bucket, e.id)
	if len(bucket) == 0 {
		delete(byLength, e.length)
	}
}
