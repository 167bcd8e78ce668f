package models

import "fmt"

// ContextRequest asks for an assembled context for a query.
type ContextRequest struct {
	Query          string `json:"query"`
	MaxContextSize int    `json:"max_context_size,omitempty"` // 0 uses the configured ceiling
	TopK           int    `json:"top_k,omitempty"`            // 0 uses the configured candidate count
}

// Validate ensures the request has a query and non-negative limits.
func (r *ContextRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.MaxContextSize < 0 {
		return fmt.Errorf("max_context_size cannot be negative")
	}
	if r.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	return nil
}
