package contextmgr

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/effctx/internal/models"
)

func BenchmarkAddDocuments(b *testing.B) {
	h := newHarness(b, Config{MaxContextSize: 2000, TopK: 10}, defaultChunking())
	text := numberedWords(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := h.manager.AddDocuments(context.Background(), []models.DocumentInput{{ID: fmt.Sprintf("d%d", i), Content: text}})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGenerateContext(b *testing.B) {
	h := newHarness(b, Config{MaxContextSize: 500, TopK: 10}, smallChunking())
	if _, err := h.manager.AddDocuments(context.Background(), corpus()); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.manager.GenerateContext(context.Background(), "solar and wind power", 0); err != nil {
			b.Fatal(err)
		}
	}
}
