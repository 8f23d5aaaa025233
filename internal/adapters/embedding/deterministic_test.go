package embedding

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestDeterministicSameTextSameVector(t *testing.T) {
	d := NewDeterministic(256)
	ctx := context.Background()

	a, err := d.Embed(ctx, "user prefers dark roast coffee")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := d.Embed(ctx, "user prefers dark roast coffee")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(a.Embedding) != 256 || len(b.Embedding) != 256 {
		t.Fatalf("expected 256 dimensions, got %d and %d", len(a.Embedding), len(b.Embedding))
	}
	for i := range a.Embedding {
		if a.Embedding[i] != b.Embedding[i] {
			t.Fatalf("vectors differ at index %d", i)
		}
	}
}

func TestDeterministicUnitLength(t *testing.T) {
	d := NewDeterministic(128)

	res, err := d.Embed(context.Background(), "some text to embed")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	var sum float64
	for _, x := range res.Embedding {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("expected unit-length vector, got squared norm %f", sum)
	}
}

func TestDeterministicEmptyTextIsError(t *testing.T) {
	d := NewDeterministic(128)

	if _, err := d.Embed(context.Background(), "   "); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestDeterministicSharedTokensAreCloser(t *testing.T) {
	d := NewDeterministic(512)
	ctx := context.Background()

	base, _ := d.Embed(ctx, "user drinks coffee every morning")
	related, _ := d.Embed(ctx, "user drinks tea every morning")
	unrelated, _ := d.Embed(ctx, "quarterly report deadline moved")

	if cosine(base.Embedding, related.Embedding) <= cosine(base.Embedding, unrelated.Embedding) {
		t.Error("expected texts with shared tokens to be closer than unrelated texts")
	}
}

func TestDeterministicBatchMatchesSingle(t *testing.T) {
	d := NewDeterministic(64)
	ctx := context.Background()

	texts := []string{"first fact", "second fact"}
	batch, err := d.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 results, got %d", len(batch))
	}

	single, _ := d.Embed(ctx, "first fact")
	for i := range single.Embedding {
		if batch[0].Embedding[i] != single.Embedding[i] {
			t.Fatal("batch embedding differs from single embedding")
		}
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector: %v", v)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}
