package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

func isDimensionMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "dimension mismatch")
}

// Breaker wraps gobreaker to protect Postgres calls from cascading
// failures, adapted from a circuit breaker used elsewhere in the corpus
// to guard outbound LLM calls. Three consecutive failures trip the
// circuit; it stays open for 30s before allowing a half-open probe.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker returns a Breaker with the corpus defaults: trip after 3
// consecutive failures, 30s open timeout, close after 2 half-open
// successes.
func NewBreaker() *Breaker {
	settings := gobreaker.Settings{
		Name:        "pgstore",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. An open circuit, or an error fn
// returns, is surfaced wrapped as vectorstore.Unavailable, with two
// exceptions returned unwrapped: a canceled context's error and a
// dimension-mismatch error.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.cb.Execute(func() (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, vectorstore.Unavailable("pgstore: circuit open", err)
		}
		if isDimensionMismatch(err) {
			// Business-logic error, not a connectivity failure: still
			// counts against the breaker's failure tally but must not be
			// reported to callers as StorageUnavailable.
			return nil, err
		}
		return nil, vectorstore.Unavailable("pgstore", err)
	}
	return result, nil
}

// State returns the breaker's current state: "closed", "open", or
// "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
