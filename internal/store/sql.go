package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

const recordColumns = `id, input_text, normalized_text, result, created_at, hit_count, last_used_at, golden, score`

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and rewritten by bind.
type sqlStore struct {
	db      *sql.DB
	backend string
	bind    func(string) string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newSQLStore(db *sql.DB, backend string, bind func(string) string) *sqlStore {
	if bind == nil {
		bind = func(q string) string { return q }
	}
	return &sqlStore{
		db:      db,
		backend: backend,
		bind:    bind,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *sqlStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// unavailable joins ErrStorageUnavailable with a driver error.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *sqlStore) Put(ctx context.Context, p PutParams) (*model.Record, bool, error) {
	now := time.Now().UTC()
	id := s.newID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, unavailable("begin put", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.bind(
		`INSERT INTO records (id, input_hash, input_text, norm_hash, normalized_text, result, created_at, hit_count, golden, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (input_hash) DO NOTHING`),
		id, hashText(p.InputText), p.InputText, hashText(p.NormalizedText), p.NormalizedText,
		p.Result, formatTime(now), boolToInt(p.Golden), p.Score)
	if err != nil {
		return nil, false, unavailable("insert record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, unavailable("insert record", err)
	}

	row := tx.QueryRowContext(ctx, s.bind(
		`SELECT `+recordColumns+` FROM records WHERE input_hash = ? AND input_text = ?`),
		hashText(p.InputText), p.InputText)
	rec, err := scanRecord(row)
	if err != nil {
		// The row either was just inserted or blocked the insert; not seeing it
		// means the backend lost it.
		return nil, false, unavailable("read back record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, unavailable("commit put", err)
	}
	return &rec, n == 1, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+recordColumns+` FROM records WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	return &rec, nil
}

func (s *sqlStore) FindExact(ctx context.Context, input, normalized string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+recordColumns+` FROM records WHERE input_hash = ? AND input_text = ?`),
		hashText(input), input)
	rec, err := scanRecord(row)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("find exact input", err)
	}

	row = s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+recordColumns+` FROM records
		 WHERE norm_hash = ? AND normalized_text = ?
		 ORDER BY id LIMIT 1`),
		hashText(normalized), normalized)
	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find exact normalized", err)
	}
	return &rec, nil
}

func (s *sqlStore) All(ctx context.Context) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id`)
		if err != nil {
			yield(model.Record{}, unavailable("list records", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(model.Record{}, unavailable("scan record", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Record{}, unavailable("list records", err))
		}
	}
}

func (s *sqlStore) RecordHit(ctx context.Context, id string) error {
	return s.updateOne(ctx, "record hit", id,
		`UPDATE records SET hit_count = hit_count + 1, last_used_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	return s.updateOne(ctx, "delete", id, `DELETE FROM records WHERE id = ?`, id)
}

func (s *sqlStore) UpdateResult(ctx context.Context, id, result string, score int) error {
	return s.updateOne(ctx, "update result", id,
		`UPDATE records SET result = ?, score = ? WHERE id = ?`, result, score, id)
}

func (s *sqlStore) UpdateNormalized(ctx context.Context, id, normalized string) error {
	return s.updateOne(ctx, "update normalized", id,
		`UPDATE records SET norm_hash = ?, normalized_text = ? WHERE id = ?`,
		hashText(normalized), normalized, id)
}

func (s *sqlStore) SetGolden(ctx context.Context, id string, golden bool) error {
	return s.updateOne(ctx, "set golden", id,
		`UPDATE records SET golden = ? WHERE id = ?`, boolToInt(golden), id)
}

// updateOne runs a statement expected to touch exactly the row with id.
func (s *sqlStore) updateOne(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns records whose normalized text contains query, newest first.
// query is matched literally, so callers pass it through the same
// normalization as the stored texts.
func (s *sqlStore) Search(ctx context.Context, query string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT `+recordColumns+` FROM records
		 WHERE normalized_text LIKE ? ESCAPE '\'
		 ORDER BY id DESC LIMIT ?`),
		"%"+likeEscaper.Replace(query)+"%", limit)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search", err)
	}
	return records, nil
}

func (s *sqlStore) stats(ctx context.Context) (*model.Stats, error) {
	st := &model.Stats{Backend: s.backend}

	var golden sql.NullInt64
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.bind(
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0), SUM(CASE WHEN golden = 1 THEN 1 ELSE 0 END),
		        AVG(CASE WHEN golden = 1 AND score > 0 THEN score END)
		 FROM records`)).Scan(&st.TotalRecords, &st.TotalHits, &golden, &avg)
	if err != nil {
		return nil, unavailable("stats", err)
	}
	st.GoldenRecords = int(golden.Int64)
	if avg.Valid {
		st.AvgScore = float64(int(avg.Float64*100+0.5)) / 100
	}
	// Every stored record stands for one past miss.
	if lookups := st.TotalHits + st.TotalRecords; lookups > 0 {
		st.HitRate = float64(st.TotalHits) / float64(lookups)
	}
	return st, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var r model.Record
	var createdAt string
	var lastUsed sql.NullString
	var golden int

	err := row.Scan(
		&r.ID, &r.InputText, &r.NormalizedText, &r.Result, &createdAt,
		&r.HitCount, &lastUsed, &golden, &r.Score,
	)
	if err != nil {
		return r, err
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastUsed.String)
		r.LastUsedAt = &t
	}
	r.Golden = golden != 0
	return r, nil
}

// dollarBind rewrites ? placeholders to $1, $2, ... for Postgres.
func dollarBind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
