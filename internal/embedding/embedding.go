// Package embedding defines the abstract Embedder contract the kernel
// consumes (C1). Embedding model choice and tokenizer details are
// deliberately out of scope for this module (spec.md §1); this package
// only carries the interface, a deterministic test double, and a
// rate-limiting decorator for remote-backed implementations.
package embedding

import (
	"context"
	"crypto/sha256"
	"math"

	"golang.org/x/time/rate"
)

// Embedder maps text to a fixed-length unit vector. Implementations must
// be thread-safe (spec.md §5); any internal state is the implementer's
// responsibility.
type Embedder interface {
	// Embed returns a unit-length vector of Dimension() length for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed length of vectors this embedder
	// produces.
	Dimension() int

	// Model returns an identifier for the embedding model in use.
	Model() string
}

// RateLimited wraps an Embedder with a token-bucket limiter, modeled on
// the teacher's HTTP rate-limiting middleware (web/handlers/middleware.go
// in the source tree this was adapted from). Remote embedding providers
// are the one part of the write path that legitimately needs throttling;
// the deterministic HashEmbedder below does not need this wrapper.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing reqPerSec sustained
// calls and burst concurrent calls.
func NewRateLimited(inner Embedder, reqPerSec float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst),
	}
}

// Embed blocks until the limiter admits the call (or ctx is cancelled),
// then delegates to the wrapped embedder.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// Dimension delegates to the wrapped embedder.
func (r *RateLimited) Dimension() int { return r.inner.Dimension() }

// Model delegates to the wrapped embedder.
func (r *RateLimited) Model() string { return r.inner.Model() }

// HashEmbedder is a deterministic, dependency-free Embedder for tests and
// local development. It derives a unit vector from repeated SHA-256
// digests of the input text, so identical text always maps to the same
// vector and similar text does not reliably map to nearby vectors (it is
// not a semantic embedder, only a stand-in that satisfies the Embedder
// contract).
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	block := []byte(text)
	for i := 0; i < h.dim; i++ {
		sum := sha256.Sum256(append(block, byte(i), byte(i>>8)))
		// Map the first 4 bytes of the digest to a signed float in
		// [-1, 1].
		var acc uint32
		for _, b := range sum[:4] {
			acc = acc<<8 | uint32(b)
		}
		vec[i] = float32(acc)/float32(math.MaxUint32)*2 - 1
	}
	normalize(vec)
	return vec, nil
}

// Dimension implements Embedder.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Model implements Embedder.
func (h *HashEmbedder) Model() string { return "hash-embedder-v1" }

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}
