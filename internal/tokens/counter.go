// Package tokens provides token counting for chunk sizing and context budgets.
package tokens

import (
	"fmt"
	"strings"
)

const (
	// KindWords counts whitespace-separated words. It is the default and matches how the
	// chunker measures chunk_size.
	KindWords = "words"
	// KindTiktoken counts BPE tokens with a tiktoken encoding.
	KindTiktoken = "tiktoken"
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words.
type WordCounter struct{}

// Count returns the number of words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// Words splits text into word tokens.
func Words(text string) []string {
	return strings.Fields(text)
}

// New returns a counter of the given kind. encoding is only used by KindTiktoken.
func New(kind, encoding string) (Counter, error) {
	switch kind {
	case KindWords, "":
		return WordCounter{}, nil
	case KindTiktoken:
		return NewTiktokenCounter(encoding)
	default:
		return nil, fmt.Errorf("unknown token counter: %s (supported: words, tiktoken)", kind)
	}
}
