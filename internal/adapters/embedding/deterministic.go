package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/osqr/memvault/internal/domain"
	"github.com/osqr/memvault/internal/ports"
)

// Deterministic produces hash-seeded unit vectors with no external service.
// It is used in tests and as the offline fallback: the same text always maps
// to the same vector, and texts sharing tokens land closer together than
// unrelated texts.
type Deterministic struct {
	dimensions int
}

// NewDeterministic creates a deterministic embedder with the given
// dimensionality.
func NewDeterministic(dimensions int) *Deterministic {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Deterministic{dimensions: dimensions}
}

// Embed generates a deterministic embedding for a single text
func (d *Deterministic) Embed(_ context.Context, text string) (*ports.EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainError(domain.ErrEmptyContent, "cannot embed empty text")
	}

	vec := make([]float64, d.dimensions)

	// Whole-text hash anchors the vector; token hashes pull related texts
	// toward each other.
	d.accumulate(vec, strings.ToLower(text), 1.0)
	for _, tok := range tokenize(text) {
		d.accumulate(vec, tok, 0.5)
	}

	out := make([]float32, d.dimensions)
	var sum float64
	for i, x := range vec {
		sum += x * x
		out[i] = float32(x)
	}
	if sum > 0 {
		norm := math.Sqrt(sum)
		for i := range out {
			out[i] = float32(vec[i] / norm)
		}
	}

	return &ports.EmbeddingResult{
		Embedding:  out,
		Model:      "deterministic",
		Dimensions: d.dimensions,
	}, nil
}

// EmbedBatch generates deterministic embeddings for multiple texts
func (d *Deterministic) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	results := make([]*ports.EmbeddingResult, len(texts))
	for i, text := range texts {
		res, err := d.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// GetDimensions returns the dimensionality of the embeddings
func (d *Deterministic) GetDimensions() int {
	return d.dimensions
}

func (d *Deterministic) accumulate(vec []float64, seed string, weight float64) {
	h := sha256.Sum256([]byte(seed))
	// Expand the digest into a pseudo-random stream via counter rehashing.
	var counter uint64
	buf := make([]byte, len(h)+8)
	copy(buf, h[:])

	i := 0
	for i < len(vec) {
		binary.BigEndian.PutUint64(buf[len(h):], counter)
		block := sha256.Sum256(buf)
		counter++

		for off := 0; off+4 <= len(block) && i < len(vec); off += 4 {
			bits := binary.BigEndian.Uint32(block[off : off+4])
			// Map to [-1, 1)
			val := float64(int32(bits)) / float64(math.MaxInt32)
			vec[i] += val * weight
			i++
		}
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
