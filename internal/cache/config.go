// Package cache decides whether a stored evaluation can answer a new story and
// writes fresh evaluations back.
package cache

import (
	"errors"
	"fmt"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/similarity"
)

// ErrInvalidInput is returned for input that is empty after normalization or
// outside the length limits in Config. Such input never reaches the store.
var ErrInvalidInput = errors.New("cache: invalid input")

// Config tunes lookup and admission.
type Config struct {
	// Threshold is the minimum similarity for a fuzzy hit, in (0,1].
	// Default: 0.9
	Threshold float64 `yaml:"threshold"`

	// MinInputLength is the minimum rune length of normalized text accepted
	// at all. Default: 1
	MinInputLength int `yaml:"min_input_length"`

	// MaxInputLength is the maximum rune length of the raw input. Zero means
	// unlimited. Default: 2000
	MaxInputLength int `yaml:"max_input_length"`

	// MinFuzzyLength is the rune length of normalized text below which only
	// exact matches apply. Default: 12
	MinFuzzyLength int `yaml:"min_fuzzy_length"`

	// TopK is how many index candidates are considered per lookup.
	// Default: 5
	TopK int `yaml:"top_k"`

	// TieBreak orders equally similar candidates: "id" or "recency".
	TieBreak string `yaml:"tie_break"`

	// PreferGolden picks the best-scored golden candidate above the threshold
	// over a more similar non-golden one.
	PreferGolden bool `yaml:"prefer_golden"`

	// Metric names the similarity metric: "levenshtein" or "token_cosine".
	Metric string `yaml:"metric"`

	// GoldenMinScore marks admitted records golden when their INVEST score is
	// at least this value. Zero disables automatic promotion.
	GoldenMinScore int `yaml:"golden_min_score"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.9,
		MinInputLength: 1,
		MaxInputLength: 2000,
		MinFuzzyLength: 12,
		TopK:           5,
		TieBreak:       "id",
		Metric:         "levenshtein",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("cache: threshold %v outside (0,1]", c.Threshold)
	}
	if c.MinInputLength < 1 {
		return fmt.Errorf("cache: min_input_length must be >= 1, got %d", c.MinInputLength)
	}
	if c.MaxInputLength < 0 {
		return fmt.Errorf("cache: max_input_length must be >= 0, got %d", c.MaxInputLength)
	}
	if c.MaxInputLength > 0 && c.MaxInputLength < c.MinInputLength {
		return fmt.Errorf("cache: max_input_length %d below min_input_length %d", c.MaxInputLength, c.MinInputLength)
	}
	if c.MinFuzzyLength < 0 {
		return fmt.Errorf("cache: min_fuzzy_length must be >= 0, got %d", c.MinFuzzyLength)
	}
	if c.TopK < 1 {
		return fmt.Errorf("cache: top_k must be >= 1, got %d", c.TopK)
	}
	if c.GoldenMinScore < 0 || c.GoldenMinScore > 6 {
		return fmt.Errorf("cache: golden_min_score must be in [0,6], got %d", c.GoldenMinScore)
	}
	if _, err := similarity.ParseTieBreak(c.TieBreak); err != nil {
		return err
	}
	if _, err := similarity.NewMetric(c.Metric); err != nil {
		return err
	}
	return nil
}

// NewIndex returns an empty index configured with the metric and tie-break
// named in c.
func (c Config) NewIndex() (*similarity.Index, error) {
	metric, err := similarity.NewMetric(c.Metric)
	if err != nil {
		return nil, err
	}
	tb, err := similarity.ParseTieBreak(c.TieBreak)
	if err != nil {
		return nil, err
	}
	return similarity.NewIndex(metric, tb), nil
}
