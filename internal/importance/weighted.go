package importance

import (
	"fmt"
	"strings"
)

// Weight pairs a scorer with its share of a composite score.
type Weight struct {
	Scorer Scorer
	Weight float64
}

// Weighted combines scorers as a normalized weighted sum.
type Weighted struct {
	parts []Weight
	total float64
}

// NewWeighted returns a composite of parts. Weights must be non-negative with a positive sum.
func NewWeighted(parts ...Weight) (*Weighted, error) {
	var total float64
	for _, p := range parts {
		if p.Scorer == nil {
			return nil, fmt.Errorf("nil scorer in composite")
		}
		if p.Weight < 0 {
			return nil, fmt.Errorf("scorer %s has negative weight %g", p.Scorer.Name(), p.Weight)
		}
		total += p.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("composite scorer needs a positive total weight")
	}
	return &Weighted{parts: parts, total: total}, nil
}

func (w *Weighted) Name() string {
	names := make([]string, len(w.parts))
	for i, p := range w.parts {
		names[i] = p.Scorer.Name()
	}
	return "weighted(" + strings.Join(names, ",") + ")"
}

func (w *Weighted) Score(unit string, sc Context) float64 {
	var sum float64
	for _, p := range w.parts {
		if p.Weight == 0 {
			continue
		}
		sum += p.Weight * Clamp(p.Scorer.Score(unit, sc))
	}
	return Clamp(sum / w.total)
}

// Default returns the standard composite: keyword density 0.5, position 0.3, length 0.2.
func Default() (Scorer, error) {
	kw, err := NewKeywordScorer("en")
	if err != nil {
		return nil, err
	}
	return NewWeighted(
		Weight{Scorer: kw, Weight: 0.5},
		Weight{Scorer: PositionScorer{Floor: 0.5}, Weight: 0.3},
		Weight{Scorer: LengthScorer{Ideal: 20}, Weight: 0.2},
	)
}
