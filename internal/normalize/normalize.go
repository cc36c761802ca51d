// Package normalize folds incidental formatting out of user story text so that
// equivalent inputs compare equal and near-equivalent inputs compare close.
//
// The output is a pure function of the input and the Options in effect: the
// same text normalized under the same Options always yields the same string.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Options configures normalization.
type Options struct {
	// Lowercase folds case before any other rule runs.
	Lowercase bool `yaml:"lowercase"`

	// StripPunctuation replaces every rune that is not a letter, digit,
	// underscore or whitespace with a space.
	StripPunctuation bool `yaml:"strip_punctuation"`

	// Typos maps frequent misspellings to their corrected form. Replacement
	// happens after case folding and before punctuation stripping, longest
	// key first.
	Typos map[string]string `yaml:"typos"`
}

// DefaultTypos are the misspellings most often seen in submitted stories.
var DefaultTypos = map[string]string{
	"чтлбы":              "чтобы",
	"что бы":             "чтобы",
	"чотбы":              "чтобы",
	"востановить":        "восстановить",
	"зарегестрироваться": "зарегистрироваться",
	"пользаватель":       "пользователь",
}

// DefaultOptions returns the default normalization options.
func DefaultOptions() Options {
	typos := make(map[string]string, len(DefaultTypos))
	for k, v := range DefaultTypos {
		typos[k] = v
	}
	return Options{
		Lowercase:        true,
		StripPunctuation: true,
		Typos:            typos,
	}
}

var (
	// punctuationPattern matches anything outside \w and \s, Unicode-aware.
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

type replacement struct {
	from, to string
}

// Normalizer applies a fixed set of Options. Safe for concurrent use.
type Normalizer struct {
	opts  Options
	typos []replacement
}

// New builds a Normalizer. Typo keys are ordered longest first, ties broken
// lexically, so that the result never depends on map iteration order.
func New(opts Options) *Normalizer {
	n := &Normalizer{opts: opts}
	for from, to := range opts.Typos {
		if from == "" {
			continue
		}
		n.typos = append(n.typos, replacement{from: from, to: to})
	}
	sort.Slice(n.typos, func(i, j int) bool {
		if len(n.typos[i].from) != len(n.typos[j].from) {
			return len(n.typos[i].from) > len(n.typos[j].from)
		}
		return n.typos[i].from < n.typos[j].from
	})
	return n
}

// Options returns the options this normalizer was built with.
func (n *Normalizer) Options() Options {
	return n.opts
}

// Version fingerprints the rules in effect. Texts normalized under different
// versions are not comparable.
func (n *Normalizer) Version() string {
	h := sha256.New()
	fmt.Fprintf(h, "lower=%t;punct=%t;", n.opts.Lowercase, n.opts.StripPunctuation)
	for _, r := range n.typos {
		fmt.Fprintf(h, "%q=%q;", r.from, r.to)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Normalize returns the canonical form of text. Empty or whitespace-only input
// yields "".
func (n *Normalizer) Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if n.opts.Lowercase {
		text = strings.ToLower(text)
	}

	for _, r := range n.typos {
		from := r.from
		if n.opts.Lowercase {
			from = strings.ToLower(from)
		}
		text = strings.ReplaceAll(text, from, r.to)
	}

	if n.opts.StripPunctuation {
		text = punctuationPattern.ReplaceAllString(text, " ")
	}

	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
