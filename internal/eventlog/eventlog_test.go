package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

type fakeWriter struct {
	written  []types.Memory
	payloads map[string]map[string]any
	hits     []vectorstore.SearchHit
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{payloads: make(map[string]map[string]any)}
}

func (f *fakeWriter) WriteEvent(_ context.Context, m types.Memory) error {
	f.written = append(f.written, m)
	return nil
}

func (f *fakeWriter) UpdatePayload(_ context.Context, _, id string, partial map[string]any) error {
	if f.payloads[id] == nil {
		f.payloads[id] = map[string]any{}
	}
	for k, v := range partial {
		f.payloads[id][k] = v
	}
	return nil
}

func (f *fakeWriter) Search(_ context.Context, _ string, _ []float32, _ int, _ vectorstore.Filter) ([]vectorstore.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeWriter) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeWriter) Collection() string { return "test-collection" }

func TestLogEventWritesActiveL2Memory(t *testing.T) {
	w := newFakeWriter()
	l := New(w)
	when := time.Now().UTC()

	m, err := l.LogEvent(context.Background(), "deployed service x", "prod", []string{"alice", "bob"}, when, 0)
	require.NoError(t, err)
	assert.Equal(t, types.LayerEventLog, m.Layer)
	assert.True(t, m.IsActive)
	assert.Equal(t, "alice,bob", m.CreatedBy)
	assert.Nil(t, m.ExpiresAt)
	require.Len(t, w.written, 1)
}

func TestLogEventSetsExpiryFromTTL(t *testing.T) {
	w := newFakeWriter()
	l := New(w)
	when := time.Now().UTC()

	m, err := l.LogEvent(context.Background(), "transient note", "", nil, when, 7)
	require.NoError(t, err)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, when.AddDate(0, 0, 7), *m.ExpiresAt)
}

func TestPromoteToFactWritesL3AndTagsSource(t *testing.T) {
	w := newFakeWriter()
	l := New(w)
	event := vectorstore.SearchHit{Point: vectorstore.Point{ID: "evt-1", Payload: map[string]any{"content": "build passed"}}}

	fact, err := l.PromoteToFact(context.Background(), event, "carol")
	require.NoError(t, err)
	assert.Equal(t, types.LayerVerifiedFact, fact.Layer)
	assert.Equal(t, "build passed", fact.Content)
	assert.Equal(t, "carol", fact.CreatedBy)

	require.Contains(t, w.payloads, "evt-1")
	assert.Equal(t, fact.ID, w.payloads["evt-1"]["promoted_to"])
}

func TestPromoteToFactRejectsAlreadyPromotedEvent(t *testing.T) {
	w := newFakeWriter()
	l := New(w)
	event := vectorstore.SearchHit{Point: vectorstore.Point{ID: "evt-2", Payload: map[string]any{"content": "x", "promoted_to": "fact-1"}}}

	_, err := l.PromoteToFact(context.Background(), event, "carol")
	assert.Error(t, err)
}

func TestSearchEventsEmbedsAndDelegates(t *testing.T) {
	w := newFakeWriter()
	w.hits = []vectorstore.SearchHit{{Point: vectorstore.Point{ID: "evt-3"}, Score: 0.5}}
	l := New(w)

	hits, err := l.SearchEvents(context.Background(), "what happened", time.Now().Add(-time.Hour), time.Now(), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "evt-3", hits[0].ID)
}
