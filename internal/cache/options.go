package cache

import (
	"context"
	"log/slog"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// Recorder receives cache events. Implementations must be safe for concurrent
// use and must not block.
type Recorder interface {
	RecordLookup(ctx context.Context, kind string, score float64)
	RecordAdmission(ctx context.Context, created, golden bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordLookup(context.Context, string, float64) {}
func (noopRecorder) RecordAdmission(context.Context, bool, bool)  {}

// Option configures a Coordinator or an Admitter.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
	scorer   func(result string) int
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		recorder: noopRecorder{},
		scorer:   func(string) int { return model.ScoreUnknown },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithScorer sets how the admitter extracts an INVEST score from a result.
func WithScorer(fn func(result string) int) Option {
	return func(o *options) {
		if fn != nil {
			o.scorer = fn
		}
	}
}

// preview shortens text for log lines.
func preview(s string) string {
	const limit = 40
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
