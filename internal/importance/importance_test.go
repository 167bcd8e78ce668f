package importance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constScorer float64

func (c constScorer) Name() string {
	return "const"
}

func (c constScorer) Score(string, Context) float64 {
	return float64(c)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(math.NaN()))
	assert.Equal(t, 0.0, Clamp(-3))
	assert.Equal(t, 1.0, Clamp(7))
	assert.Equal(t, 0.25, Clamp(0.25))
}

func TestPositionScorer(t *testing.T) {
	s := PositionScorer{Floor: 0.5}
	assert.Equal(t, 1.0, s.Score("x", Context{Position: 0, Total: 5}))
	assert.InDelta(t, 0.75, s.Score("x", Context{Position: 2, Total: 5}), 1e-9)
	assert.InDelta(t, 0.5, s.Score("x", Context{Position: 4, Total: 5}), 1e-9)
	assert.Equal(t, 1.0, s.Score("x", Context{Total: 1}))
}

func TestLengthScorer(t *testing.T) {
	s := LengthScorer{Ideal: 4}
	assert.Equal(t, 0.5, s.Score("two words", Context{}))
	assert.Equal(t, 1.0, s.Score("one two three four five six", Context{}))
	assert.Equal(t, 0.0, s.Score("   ", Context{}))
}

func TestKeywordScorer(t *testing.T) {
	s, err := NewKeywordScorer("")
	require.NoError(t, err)

	terms := s.Terms("The runners were running quickly")
	assert.NotContains(t, terms, "the", "stop words are removed")
	assert.Contains(t, terms, "run", "terms are stemmed")

	dense := s.Score("Photovoltaic modules convert sunlight into electricity", Context{})
	filler := s.Score("it is what it is and that is that", Context{})
	assert.Greater(t, dense, filler)

	withQuery := Context{Query: "solar electricity"}
	assert.Equal(t, 1.0, s.Score("Solar panels produce electricity", withQuery))
	assert.Equal(t, 0.5, s.Score("Panels produce electricity", withQuery))
	assert.Equal(t, 0.0, s.Score("", withQuery))

	_, err = NewKeywordScorer("no-such-analyzer")
	assert.Error(t, err)
}

func TestWeighted(t *testing.T) {
	w, err := NewWeighted(Weight{Scorer: constScorer(1), Weight: 3}, Weight{Scorer: constScorer(0), Weight: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, w.Score("x", Context{}), 1e-9)
	assert.Equal(t, "weighted(const,const)", w.Name())

	nan, err := NewWeighted(Weight{Scorer: constScorer(math.NaN()), Weight: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, nan.Score("x", Context{}))

	_, err = NewWeighted()
	assert.Error(t, err)
	_, err = NewWeighted(Weight{Scorer: constScorer(1), Weight: -1})
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)
	v := s.Score("Battery storage smooths renewable output.", Context{Position: 1, Total: 3})
	assert.True(t, v > 0 && v <= 1, "score %f out of range", v)
}
