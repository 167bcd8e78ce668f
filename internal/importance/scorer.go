// Package importance scores text units for how much they are worth keeping in a context window.
package importance

import (
	"math"
	"strings"
)

// Context describes where a unit sits among its siblings.
type Context struct {
	Position int
	Total    int
	// Query is the retrieval query, empty outside of query-driven assembly.
	Query string
}

// Scorer rates a unit in [0, 1]; higher means more important.
type Scorer interface {
	Name() string
	Score(unit string, sc Context) float64
}

// Clamp bounds v to [0, 1], mapping NaN to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PositionScorer favors units near the start of their document, decaying linearly to Floor
// for the last unit.
type PositionScorer struct {
	Floor float64
}

func (s PositionScorer) Name() string { return "position" }

func (s PositionScorer) Score(_ string, sc Context) float64 {
	if sc.Total <= 1 {
		return 1
	}
	frac := float64(sc.Position) / float64(sc.Total-1)
	return Clamp(1 - (1-s.Floor)*frac)
}

// LengthScorer rewards units up to Ideal words long.
type LengthScorer struct {
	Ideal int
}

func (s LengthScorer) Name() string { return "length" }

func (s LengthScorer) Score(unit string, _ Context) float64 {
	ideal := s.Ideal
	if ideal <= 0 {
		ideal = 20
	}
	return Clamp(float64(len(strings.Fields(unit))) / float64(ideal))
}
