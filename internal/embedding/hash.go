package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// HashEngine produces deterministic pseudo-embeddings from token
// hashes. It is the degraded-mode fallback when no real embedding
// service is reachable: vectors are stable across runs and retain
// rough lexical similarity (shared identifiers land in the same
// dimensions), which keeps retrieval functional if imprecise.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash engine with the given dimensionality.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 768
	}
	return &HashEngine{dims: dims}
}

// Embed computes the pseudo-embedding for text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	for _, token := range tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		// Each token activates four dimensions with signed weights.
		for i := 0; i < 4; i++ {
			idx := binary.LittleEndian.Uint32(sum[i*8:]) % uint32(e.dims)
			sign := float32(1)
			if sum[i*8+4]&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch computes pseudo-embeddings for multiple texts.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (e *HashEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashEngine) Name() string { return fmt.Sprintf("hash:%d", e.dims) }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func normalize(v []float32) {
	var mag float64
	for _, f := range v {
		mag += float64(f) * float64(f)
	}
	if mag == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(mag))
	for i := range v {
		v[i] *= inv
	}
}
