// Package eventlog is C12: fast append of timestamped L2 observations
// and selective promotion to verified L3 facts.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memoryanchor/internal/temporal"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// Writer is the subset of Kernel write capability the event log needs:
// a way to persist a Memory through the same dual-store path the
// Kernel uses for everything else, and a way to search.
type Writer interface {
	WriteEvent(ctx context.Context, m types.Memory) error
	UpdatePayload(ctx context.Context, collection, id string, partial map[string]any) error
	Search(ctx context.Context, collection string, query []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchHit, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Collection() string
}

// Log is the C12 Event Log & Promotion component.
type Log struct {
	w Writer
}

// New constructs a Log over w.
func New(w Writer) *Log { return &Log{w: w} }

// LogEvent writes an L2 memory. If ttlDays is positive, expires_at is
// set to when + ttlDays; zero or negative leaves it unset.
func (l *Log) LogEvent(ctx context.Context, content, where string, who []string, when time.Time, ttlDays int) (types.Memory, error) {
	m := types.Memory{
		ID:        uuid.NewString(),
		Content:   content,
		Layer:     types.LayerEventLog,
		CreatedAt: time.Now().UTC(),
		ValidAt:   &when,
		IsActive:  true,
		CreatedBy: joinWho(who),
	}
	if ttlDays > 0 {
		expires := when.AddDate(0, 0, ttlDays)
		m.ExpiresAt = &expires
	}
	if err := l.w.WriteEvent(ctx, m); err != nil {
		return types.Memory{}, err
	}
	return m, nil
}

func joinWho(who []string) string {
	if len(who) == 0 {
		return ""
	}
	out := who[0]
	for _, w := range who[1:] {
		out += "," + w
	}
	return out
}

// SearchEvents runs a bi-temporal range query scoped to L2.
func (l *Log) SearchEvents(ctx context.Context, query string, start, end time.Time, limit int) ([]vectorstore.SearchHit, error) {
	vec, err := l.w.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	extra := append(temporal.DefaultActiveOnly(), vectorstore.Predicate{
		Key: vectorstore.PayloadLayer, Op: vectorstore.OpEq, Value: string(types.LayerEventLog),
	})
	filter := temporal.Compose(temporal.Query{RangeStart: &start, RangeEnd: &end}, time.Now().UTC(), extra)
	return l.w.Search(ctx, l.w.Collection(), vec, limit, filter)
}

// PromoteToFact writes a new L3 memory derived from an L2 event and
// tags the source event with promoted_to. Idempotent on event_id: a
// call for an event whose payload already carries promoted_to writes
// nothing and returns an error.
func (l *Log) PromoteToFact(ctx context.Context, event vectorstore.SearchHit, reviewer string) (types.Memory, error) {
	if v, ok := event.Payload["promoted_to"]; ok && v != nil {
		return types.Memory{}, fmt.Errorf("eventlog: event %s already promoted", event.ID)
	}

	content, _ := event.Payload["content"].(string)
	if content == "" {
		content = fmt.Sprintf("promoted from event %s", event.ID)
	}
	fact := types.Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Layer:      types.LayerVerifiedFact,
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
		IsActive:   true,
		CreatedBy:  reviewer,
	}
	if err := l.w.WriteEvent(ctx, fact); err != nil {
		return types.Memory{}, err
	}
	if err := l.w.UpdatePayload(ctx, l.w.Collection(), event.ID, map[string]any{"promoted_to": fact.ID}); err != nil {
		return types.Memory{}, err
	}
	return fact, nil
}
