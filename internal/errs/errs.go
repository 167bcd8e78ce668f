// Package errs defines the error taxonomy shared by the context pipeline.
package errs

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch reports a vector whose length differs from the provider's dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ConfigurationError is returned by constructors for invalid parameter combinations.
// It is never returned mid-operation.
type ConfigurationError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid configuration: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Component, e.Field, e.Reason)
}

// Configf builds a ConfigurationError with a formatted reason.
func Configf(component, field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Component: component, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EmbeddingError wraps an embedding provider failure or a dimensionality mismatch.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Embedding wraps err as an EmbeddingError unless it already is one.
func Embedding(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	return &EmbeddingError{Op: op, Err: err}
}

// DimensionMismatch returns an EmbeddingError for a vector of the wrong length.
func DimensionMismatch(op string, got, want int) error {
	return &EmbeddingError{Op: op, Err: fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)}
}

// CapacityError reports an index insertion that cannot fit even after eviction.
type CapacityError struct {
	Requested int
	Capacity  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("index capacity exceeded: %d new entries, capacity %d", e.Requested, e.Capacity)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsEmbedding reports whether err is or wraps an EmbeddingError.
func IsEmbedding(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee)
}

// IsCapacity reports whether err is or wraps a CapacityError.
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}
