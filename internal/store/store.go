// Package store provides durable persistence for cached evaluation records.
package store

import (
	"context"
	"errors"
	"iter"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: record not found")

	// ErrStorageUnavailable is returned when the persistence layer cannot be
	// read or written. It is always joined with the underlying driver error.
	ErrStorageUnavailable = errors.New("store: storage unavailable")
)

// PutParams holds parameters for storing a record.
type PutParams struct {
	InputText      string
	NormalizedText string
	Result         string
	Golden         bool
	Score          int
}

// Store is the durable record of past evaluations.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Uniqueness: at most one record exists per exact InputText.
//   - Errors: missing ids yield ErrNotFound; I/O failures yield ErrStorageUnavailable.
type Store interface {
	// Put inserts a record, or returns the existing record unchanged when
	// InputText is already stored. created reports which happened.
	Put(ctx context.Context, p PutParams) (rec *model.Record, created bool, err error)

	// Get returns the record with the given id.
	Get(ctx context.Context, id string) (*model.Record, error)

	// FindExact returns the record whose InputText equals input, or failing
	// that the oldest record whose NormalizedText equals normalized.
	FindExact(ctx context.Context, input, normalized string) (*model.Record, error)

	// All yields every record in id order from a snapshot taken at call time.
	All(ctx context.Context) iter.Seq2[model.Record, error]

	// RecordHit increments hit_count and sets last_used_at to now.
	RecordHit(ctx context.Context, id string) error

	// Delete permanently removes a record.
	Delete(ctx context.Context, id string) error

	// UpdateResult replaces the stored result payload and score of a record.
	UpdateResult(ctx context.Context, id, result string, score int) error

	// UpdateNormalized replaces the stored normalized text of a record.
	UpdateNormalized(ctx context.Context, id, normalized string) error

	// SetGolden marks or unmarks a record as golden.
	SetGolden(ctx context.Context, id string, golden bool) error

	// Stats returns aggregate counters.
	Stats(ctx context.Context) (*model.Stats, error)

	// Close closes the store.
	Close() error
}
