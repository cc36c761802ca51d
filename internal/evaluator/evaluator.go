// Package evaluator is the boundary to the remote language model that judges
// user stories against the INVEST criteria.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for remote evaluation.
var (
	// ErrRemoteUnavailable is returned when the remote service rejects or
	// fails the request.
	ErrRemoteUnavailable = errors.New("evaluator: remote unavailable")

	// ErrRemoteTimeout is returned when the remote service does not answer
	// within the configured timeout.
	ErrRemoteTimeout = errors.New("evaluator: remote timeout")
)

// Evaluator submits a story and returns the remote verdict as text.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: must honor cancellation and deadlines.
//   - Errors: failures are ErrRemoteUnavailable or ErrRemoteTimeout; a
//     cancelled ctx yields ctx.Err(). No internal retries.
type Evaluator interface {
	Evaluate(ctx context.Context, story string) (string, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, story string) (string, error)

func (f Func) Evaluate(ctx context.Context, story string) (string, error) {
	return f(ctx, story)
}

// DefaultTimeout bounds a remote call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

type timeoutEvaluator struct {
	next    Evaluator
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. The call returns as soon as
// the deadline passes even if next ignores its context.
func WithTimeout(next Evaluator, d time.Duration) Evaluator {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutEvaluator{next: next, timeout: d}
}

func (t *timeoutEvaluator) Evaluate(ctx context.Context, story string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := t.next.Evaluate(ctx, story)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classify(ctx, r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", classify(ctx, ctx.Err())
	}
}

// classify maps provider and context errors onto the package sentinels.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrRemoteTimeout), errors.Is(err, ErrRemoteUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrRemoteTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
}
