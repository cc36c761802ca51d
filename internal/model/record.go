// Package model defines the core cache data types.
package model

import "time"

// ScoreUnknown marks a record whose result carried no recognizable INVEST score.
const ScoreUnknown = -1

// Record is one stored request/response pair.
type Record struct {
	ID             string     `json:"id"`
	InputText      string     `json:"input_text"`
	NormalizedText string     `json:"normalized_text"`
	Result         string     `json:"result"`
	CreatedAt      time.Time  `json:"created_at"`
	HitCount       int        `json:"hit_count"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Golden         bool       `json:"golden"`
	Score          int        `json:"score"`
}

// Stats holds aggregate counters over the whole store.
type Stats struct {
	Backend       string  `json:"backend"`
	Path          string  `json:"path,omitempty"`
	SizeBytes     int64   `json:"size_bytes,omitempty"`
	TotalRecords  int     `json:"total_records"`
	GoldenRecords int     `json:"golden_records"`
	TotalHits     int     `json:"total_hits"`
	HitRate       float64 `json:"hit_rate"`
	AvgScore      float64 `json:"avg_golden_score"`
}

// Match is one similarity candidate returned by the index.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
