// Package cli provides output helpers for the effctx command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/effctx/internal/models"
	"github.com/hyperjump/effctx/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text with a summary header (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputRaw is the assembled context alone, ready to paste into a prompt.
	OutputRaw OutputFormat = "raw"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON, OutputRaw:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json, raw)", s)
	}
}

// WriteBundle writes an assembled context to w in the given format.
func WriteBundle(w io.Writer, bundle *models.ContextBundle, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, bundle)
	case OutputRaw:
		_, err := fmt.Fprintln(w, bundle.Text)
		return err
	default:
		fmt.Fprintf(w, "\nContext for %q: %d tokens from %d of %d candidate chunks in %dms\n\n",
			bundle.Query, bundle.TotalTokens, len(bundle.IncludedChunkIDs), bundle.Candidates, bundle.ElapsedTime)
		for i, id := range bundle.IncludedChunkIDs {
			fmt.Fprintf(w, "  %d. %s\n", i+1, id)
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n%s\n", bundle.Text)
		return nil
	}
}

// CompressionResult is the outcome of compressing free text.
type CompressionResult struct {
	Text         string `json:"text"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
}

// WriteCompression writes a compression result to w in the given format.
func WriteCompression(w io.Writer, res CompressionResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, res)
	case OutputRaw:
		_, err := fmt.Fprintln(w, res.Text)
		return err
	default:
		fmt.Fprintf(w, "\nCompressed %d tokens to %d\n\n%s\n", res.TokensBefore, res.TokensAfter, res.Text)
		return nil
	}
}

// WriteChunks lists chunks with a content preview of up to preview characters.
func WriteChunks(w io.Writer, chunks []*models.Chunk, preview int, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, chunks)
	}
	for _, ch := range chunks {
		fmt.Fprintf(w, "%s\tdoc=%s\tpos=%d\ttokens=%d\t%s\n",
			ch.ID, ch.DocumentID, ch.Position, ch.TokenCount, utils.Truncate(ch.Content, preview))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
