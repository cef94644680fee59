package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
)

func TestBreakerExecuteReturnsResultOnSuccess(t *testing.T) {
	b := NewBreaker()
	result, err := b.Execute(context.Background(), func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerWrapsGenericFailureAsStorageUnavailable(t *testing.T) {
	b := NewBreaker()
	_, err := b.Execute(context.Background(), func() (any, error) { return nil, errors.New("dial tcp: timeout") })
	assert.ErrorIs(t, err, kernelerr.ErrStorageUnavailable)
}

func TestBreakerPassesThroughDimensionMismatchUnwrapped(t *testing.T) {
	b := NewBreaker()
	dimErr := errors.New("pgstore: collection \"x\" dimension mismatch: have 4, want 8")
	_, err := b.Execute(context.Background(), func() (any, error) { return nil, dimErr })
	assert.False(t, errors.Is(err, kernelerr.ErrStorageUnavailable))
	assert.Equal(t, dimErr, err)
}

func TestBreakerTripsOpenAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker()
	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), func() (any, error) { return nil, errors.New("boom") })
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Execute(context.Background(), func() (any, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, kernelerr.ErrStorageUnavailable)
}

func TestBreakerRespectsCanceledContext(t *testing.T) {
	b := NewBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Execute(ctx, func() (any, error) { return nil, nil })
	assert.Error(t, err)
}
