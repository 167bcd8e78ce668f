package embedding

import (
	"context"
	"errors"
	"testing"
)

type countingEmbedder struct {
	*HashEmbedder
	calls int
	texts int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	c.texts++
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a1, _ := c.Embed(ctx, "a")
	a2, _ := c.Embed(ctx, "a")
	if inner.texts != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.texts)
	}
	if &a1[0] != &a2[0] {
		t.Error("expected cached vector")
	}
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c") // evicts a
	_, _ = c.Embed(ctx, "a")
	if inner.texts != 4 {
		t.Errorf("expected a to be re-embedded after eviction, provider saw %d texts", inner.texts)
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Error("Purge should empty the cache")
	}
}

func TestCachedEmbedder_EmbedBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c, _ := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, _ = c.Embed(ctx, "x")
	vecs, err := c.EmbedBatch(ctx, []string{"x", "y", "z"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if inner.texts != 3 {
		t.Errorf("expected x to be served from cache, provider saw %d texts", inner.texts)
	}
	want, _ := inner.HashEmbedder.Embed(ctx, "z")
	for i := range want {
		if vecs[2][i] != want[i] {
			t.Fatal("batch results must stay aligned with input order")
		}
	}
}

func TestCachedEmbedder_DoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8), err: errors.New("down")}
	c, _ := NewCachedEmbedder(inner, 4)
	if _, err := c.Embed(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Error("failed embeddings must not be cached")
	}
}

func TestNewCachedEmbedder_InvalidSize(t *testing.T) {
	if _, err := NewCachedEmbedder(NewHashEmbedder(8), 0); err == nil {
		t.Error("expected error for zero capacity")
	}
}
