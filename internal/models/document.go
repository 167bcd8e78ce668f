// Package models defines core data structures for documents, chunks, and assembled contexts.
package models

import "time"

// Document represents an ingested document with metadata. Documents are immutable once added.
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// DocumentInput is the input for adding a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a bounded span of a document's text. Content is never edited after creation;
// compression produces new chunks that name their source in Metadata["derived_from"].
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	TokenCount int                    `json:"token_count"`
	Position   int                    `json:"position"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"-"`
	// Importance is only meaningful when HasImportance is set.
	Importance    float64 `json:"importance,omitempty"`
	HasImportance bool    `json:"-"`
}

// SetImportance records the chunk's importance score.
func (c *Chunk) SetImportance(score float64) {
	c.Importance = score
	c.HasImportance = true
}

// CloneMetadata returns a shallow copy of m that is safe to extend.
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
