package models

import "time"

// MemoryEntry is a single stored memory. Keys are hierarchical and
// colon-separated, e.g. "u:telegram:42:pref" or "global:timezone";
// keys are unique and stores have upsert semantics.
type MemoryEntry struct {
	Key       string         `json:"key"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RecallResult pairs an entry with its merged relevance score.
// Results are read-only copies of backend state.
type RecallResult struct {
	Entry *MemoryEntry `json:"entry"`
	Score float64      `json:"score"`

	// Component scores for diagnostics.
	KeywordScore float64 `json:"keyword_score,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
}
