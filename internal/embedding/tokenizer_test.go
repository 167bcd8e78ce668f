package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: ids=%d attn=%d types=%d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS %d, got %d", clsToken, ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP at 3, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Error("attention should cover CLS, words, SEP only")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h i j k", 5)
	if len(ids) != 5 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	for i, a := range attn {
		if a != 1 {
			t.Errorf("attention[%d]=%d, want 1", i, a)
		}
	}
}

func TestTokenID(t *testing.T) {
	if tokenID("abc") != tokenID("abc") {
		t.Error("token ids should be deterministic")
	}
	for _, w := range []string{"a", "the", "supercalifragilistic"} {
		id := tokenID(w)
		if id < 1000 || id >= vocabSize {
			t.Errorf("tokenID(%q)=%d out of range", w, id)
		}
	}
}
