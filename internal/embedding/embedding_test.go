package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderIsDeterministic(t *testing.T) {
	h := NewHashEmbedder(16)
	v1, err := h.Embed(context.Background(), "the cat sat on the mat")
	require.NoError(t, err)
	v2, err := h.Embed(context.Background(), "the cat sat on the mat")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestHashEmbedderDifferentTextDiffers(t *testing.T) {
	h := NewHashEmbedder(16)
	v1, err := h.Embed(context.Background(), "alice likes tea")
	require.NoError(t, err)
	v2, err := h.Embed(context.Background(), "bob likes coffee")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestHashEmbedderProducesUnitVector(t *testing.T) {
	h := NewHashEmbedder(32)
	v, err := h.Embed(context.Background(), "some content")
	require.NoError(t, err)
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-6)
}

func TestHashEmbedderDefaultsDimension(t *testing.T) {
	h := NewHashEmbedder(0)
	assert.Equal(t, 384, h.Dimension())
}

func TestRateLimitedDelegatesToInner(t *testing.T) {
	inner := NewHashEmbedder(8)
	r := NewRateLimited(inner, 1000, 10)
	v, err := r.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, inner.Model(), r.Model())
	assert.Equal(t, inner.Dimension(), r.Dimension())
}

func TestRateLimitedRespectsContextCancellation(t *testing.T) {
	inner := NewHashEmbedder(4)
	r := NewRateLimited(inner, 0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = r.Embed(ctx, "second")
	assert.Error(t, err)
}
