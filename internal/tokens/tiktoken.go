package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TiktokenCounter counts BPE tokens. Encodings are fetched by tiktoken-go on first use, so
// constructing one may require network access unless an offline loader is installed.
type TiktokenCounter struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves modelOrEncoding as an encoding name, then as a model name.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			return nil, fmt.Errorf("tiktoken encoding %q: %w", modelOrEncoding, err)
		}
	}
	return &TiktokenCounter{encoding: modelOrEncoding, tke: tke}, nil
}

// Count returns the number of BPE tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tke.Encode(text, nil, nil))
}

// Encoding returns the encoding or model name the counter was built with.
func (c *TiktokenCounter) Encoding() string {
	return c.encoding
}
