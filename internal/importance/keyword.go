package importance

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
)

// analyzer is satisfied by bleve's registered analyzers.
type analyzer interface {
	Analyze([]byte) analysis.TokenStream
}

// KeywordScorer measures content density with bleve's English analyzer (lowercasing,
// stop-word removal, stemming). With a query, it scores the fraction of query terms the unit
// contains; otherwise the share of the unit's words that are distinct content terms.
type KeywordScorer struct {
	analyzer analyzer
}

// NewKeywordScorer builds a scorer on the named bleve analyzer ("en" when empty).
func NewKeywordScorer(analyzerName string) (*KeywordScorer, error) {
	if analyzerName == "" {
		analyzerName = "en"
	}
	a := bleve.NewIndexMapping().AnalyzerNamed(analyzerName)
	if a == nil {
		return nil, fmt.Errorf("analyzer %q is not registered", analyzerName)
	}
	return &KeywordScorer{analyzer: a}, nil
}

func (s *KeywordScorer) Name() string { return "keyword" }

// Terms returns the analyzed terms of text in order.
func (s *KeywordScorer) Terms(text string) []string {
	tokens := s.analyzer.Analyze([]byte(text))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, string(tok.Term))
	}
	return out
}

func (s *KeywordScorer) Score(unit string, sc Context) float64 {
	terms := s.Terms(unit)
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]bool, len(terms))
	for _, t := range terms {
		present[t] = true
	}
	if sc.Query != "" {
		query := s.Terms(sc.Query)
		if len(query) > 0 {
			hits, seen := 0, map[string]bool{}
			for _, q := range query {
				if seen[q] {
					continue
				}
				seen[q] = true
				if present[q] {
					hits++
				}
			}
			return Clamp(float64(hits) / float64(len(seen)))
		}
	}
	return Clamp(float64(len(present)) / float64(len(strings.Fields(unit))))
}
