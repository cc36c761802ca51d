// Package metrics records cache behaviour with OpenTelemetry instruments.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/evaluator"
)

// MeterName is the instrumentation scope of every instrument here.
const MeterName = "github.com/Ilnur7571/INVEST-Checker-Agent"

// Recorder records lookups, admissions and remote calls.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: recording never fails or panics.
type Recorder struct {
	lookups      metric.Int64Counter
	matchScore   metric.Float64Histogram
	admissions   metric.Int64Counter
	remoteCalls  metric.Int64Counter
	remoteMillis metric.Float64Histogram
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	lookups, err := meter.Int64Counter(
		"invest_cache.lookups",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	matchScore, err := meter.Float64Histogram(
		"invest_cache.match_score",
		metric.WithDescription("Similarity score of cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	admissions, err := meter.Int64Counter(
		"invest_cache.admissions",
		metric.WithDescription("Admissions, split by whether a record was created"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	remoteCalls, err := meter.Int64Counter(
		"invest_cache.remote.calls",
		metric.WithDescription("Remote evaluator calls by result"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	remoteMillis, err := meter.Float64Histogram(
		"invest_cache.remote.duration_ms",
		metric.WithDescription("Remote evaluator latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		lookups:      lookups,
		matchScore:   matchScore,
		admissions:   admissions,
		remoteCalls:  remoteCalls,
		remoteMillis: remoteMillis,
	}, nil
}

// NewGlobalRecorder creates a Recorder on the global meter provider.
func NewGlobalRecorder() (*Recorder, error) {
	return NewRecorder(otel.Meter(MeterName))
}

// RecordLookup counts one lookup. kind is miss, exact_hit or fuzzy_hit.
func (r *Recorder) RecordLookup(ctx context.Context, kind string, score float64) {
	opt := metric.WithAttributes(attribute.String("outcome", kind))
	r.lookups.Add(ctx, 1, opt)
	if kind != "miss" {
		r.matchScore.Record(ctx, score, opt)
	}
}

// RecordAdmission counts one admission.
func (r *Recorder) RecordAdmission(ctx context.Context, created, golden bool) {
	r.admissions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("created", created),
		attribute.Bool("golden", golden),
	))
}

// RecordRemoteCall counts one remote evaluation and its latency.
func (r *Recorder) RecordRemoteCall(ctx context.Context, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("result", remoteResult(err)))
	r.remoteCalls.Add(ctx, 1, opt)
	r.remoteMillis.Record(ctx, float64(duration.Milliseconds()), opt)
}

func remoteResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, evaluator.ErrRemoteTimeout):
		return "timeout"
	case errors.Is(err, evaluator.ErrRemoteUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// NewReader creates a metrics reader for exporter: "stdout" or "none".
func NewReader(exporter string) (sdkmetric.Reader, error) {
	var w io.Writer
	switch exporter {
	case "stdout":
		w = os.Stdout
	case "none", "":
		w = io.Discard
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

// Setup installs a global meter provider exporting through exporter. The
// returned shutdown flushes pending data.
func Setup(exporter string) (shutdown func(context.Context) error, err error) {
	reader, err := NewReader(exporter)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
