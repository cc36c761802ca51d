// Package similarity answers "which stored texts look most like this one"
// over normalized story text.
package similarity

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Metric scores the similarity of two normalized texts.
//
// Contract:
//   - Score is symmetric, in [0,1], and 1 for identical inputs.
//   - Bound(la, lb) is an upper bound on Score for any pair of texts with
//     rune lengths la and lb. Returning 1 disables length pruning.
type Metric interface {
	Name() string
	Score(a, b string) float64
	Bound(la, lb int) float64
}

// NewMetric returns the metric registered under name. An empty name selects
// the Levenshtein ratio.
func NewMetric(name string) (Metric, error) {
	switch name {
	case "", "levenshtein":
		return Levenshtein{}, nil
	case "token_cosine":
		return TokenCosine{}, nil
	default:
		return nil, fmt.Errorf("similarity: unknown metric %q (valid: levenshtein, token_cosine)", name)
	}
}

// Levenshtein is the character-level ratio 1 - distance/max(len(a), len(b)),
// with lengths counted in runes.
type Levenshtein struct{}

func (Levenshtein) Name() string { return "levenshtein" }

func (Levenshtein) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Bound uses distance >= |la-lb|, so the ratio cannot exceed min/max.
func (Levenshtein) Bound(la, lb int) float64 {
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return float64(min(la, lb)) / float64(longest)
}

// TokenCosine is the cosine similarity of whitespace-token frequency vectors.
// It ignores word order.
type TokenCosine struct{}

func (TokenCosine) Name() string { return "token_cosine" }

func (TokenCosine) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	ta, tb := termFrequencies(a), termFrequencies(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, fa := range ta {
		normA += fa * fa
		if fb, ok := tb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range tb {
		normB += fb * fb
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Min(score, 1)
}

// Bound is 1: token overlap says nothing about character length.
func (TokenCosine) Bound(int, int) float64 { return 1 }

func termFrequencies(s string) map[string]float64 {
	fields := strings.Fields(s)
	tf := make(map[string]float64, len(fields))
	for _, f := range fields {
		tf[f]++
	}
	return tf
}
