package compress

import (
	"sort"

	"github.com/hyperjump/effctx/internal/vector"
	"go.uber.org/zap"
)

// unit is one comparable span: a sentence or a whole chunk.
type unit struct {
	text       string
	tokens     int
	vector     []float32
	importance float64
	// candidate units are long enough to be compared; others always survive.
	candidate bool
}

type pair struct {
	i, j int
	sim  float64
}

// reduce returns the survivor mask for units. Pairs of candidates more similar than the
// threshold are resolved most similar first; the lower-scoring unit of a pair whose members
// are both alive is dropped, the later one on a tie. With targetSize > 0, resolution stops as
// soon as the survivors fit.
func (c *Compressor) reduce(units []*unit, targetSize int) []bool {
	keep := make([]bool, len(units))
	total := 0
	for i, u := range units {
		keep[i] = true
		total += u.tokens
	}
	if targetSize > 0 && total <= targetSize {
		return keep
	}
	if c.cfg.Threshold >= 1 {
		return keep
	}

	redundancy := make([]float64, len(units))
	var pairs []pair
	for i := range units {
		if !units[i].candidate || units[i].vector == nil {
			continue
		}
		for j := i + 1; j < len(units); j++ {
			if !units[j].candidate || units[j].vector == nil {
				continue
			}
			sim := vector.CosineSimilarity(units[i].vector, units[j].vector)
			redundancy[i] = max(redundancy[i], sim)
			redundancy[j] = max(redundancy[j], sim)
			if sim > c.cfg.Threshold {
				pairs = append(pairs, pair{i: i, j: j, sim: sim})
			}
		}
	}
	if len(pairs) == 0 {
		return keep
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].sim != pairs[b].sim {
			return pairs[a].sim > pairs[b].sim
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	w := c.cfg.ImportanceWeight
	score := func(k int) float64 {
		return w*units[k].importance + (1-w)*(1-redundancy[k])
	}
	dropped := 0
	for _, p := range pairs {
		if targetSize > 0 && total <= targetSize {
			break
		}
		if !keep[p.i] || !keep[p.j] {
			continue
		}
		loser := p.j
		if score(p.i) < score(p.j) {
			loser = p.i
		}
		keep[loser] = false
		total -= units[loser].tokens
		dropped++
	}
	c.logger.Debug("deduplicated units",
		zap.Int("units", len(units)),
		zap.Int("redundant_pairs", len(pairs)),
		zap.Int("dropped", dropped),
		zap.Int("tokens", total))
	return keep
}
