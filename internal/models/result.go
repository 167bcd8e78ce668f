package models

import "time"

// ScoredChunk is a single retrieval hit. A retrieval result is a []ScoredChunk ordered by
// Score descending, ties in insertion order.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// ContextBundle is the assembled, size-bounded context handed to a language model.
type ContextBundle struct {
	Text             string   `json:"text"`
	IncludedChunkIDs []string `json:"included_chunk_ids"`
	TotalTokens      int      `json:"total_tokens"`
	// Query and timing are informational; they do not affect the bundle contents.
	Query       string `json:"query,omitempty"`
	Candidates  int    `json:"candidates"`
	ElapsedTime int64  `json:"elapsed_ms"`
}

// MemorySnapshot is a read-only view of process memory pressure.
type MemorySnapshot struct {
	ProcessResidentBytes uint64    `json:"process_resident_bytes"`
	TotalBytes           uint64    `json:"total_bytes"`
	UsagePercent         float64   `json:"usage_percent"`
	TargetUsagePercent   float64   `json:"target_usage_percent"`
	AvailableHeadroom    uint64    `json:"available_headroom"`
	Optimized            bool      `json:"optimized"`
	TakenAt              time.Time `json:"taken_at"`
}

// OverTarget reports whether resident memory exceeds the target share of total memory.
func (s MemorySnapshot) OverTarget() bool {
	return s.TotalBytes > 0 && s.UsagePercent > s.TargetUsagePercent
}
