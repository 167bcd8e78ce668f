package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Preprocess normalizes text (trim, collapse whitespace to single spaces).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// Paragraphs splits text on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	parts := paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences splits a paragraph into sentences, each returned as its word tokens.
// A word ending in terminal punctuation (optionally followed by closing quotes or brackets)
// closes a sentence.
func Sentences(paragraph string) [][]string {
	words := strings.Fields(paragraph)
	var out [][]string
	start := 0
	for i, w := range words {
		if endsSentence(w) {
			out = append(out, words[start:i+1])
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, words[start:])
	}
	return out
}

// SplitSentences returns the sentences of text as strings, across paragraphs.
func SplitSentences(text string) []string {
	var out []string
	for _, p := range Paragraphs(text) {
		for _, s := range Sentences(p) {
			out = append(out, strings.Join(s, " "))
		}
	}
	return out
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]}»”’`)
	if trimmed == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}
