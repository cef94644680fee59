package chromemstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 4))
	require.NoError(t, s.EnsureCollection(ctx, "notes", 4))
}

func TestEnsureCollectionRejectsDimensionChange(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 4))
	err = s.EnsureCollection(ctx, "notes", 8)
	assert.Error(t, err)
}

func TestUpsertAndSearchRoundTripsPayload(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 3))

	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{
		ID:     "pt-1",
		Vector: []float32{1, 0, 0},
		Payload: map[string]any{
			"content":              "first note",
			vectorstore.PayloadIsActive: true,
			vectorstore.PayloadExpiresAt: nil,
		},
	}))
	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{
		ID:     "pt-2",
		Vector: []float32{0, 1, 0},
		Payload: map[string]any{
			"content":              "second note",
			vectorstore.PayloadIsActive: true,
			vectorstore.PayloadExpiresAt: nil,
		},
	}))

	hits, err := s.Search(ctx, "notes", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "pt-1", hits[0].ID)
	assert.Equal(t, "first note", hits[0].Payload["content"])
	assert.Nil(t, hits[0].Payload[vectorstore.PayloadExpiresAt])
}

func TestSearchAppliesPayloadFilter(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 2))
	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{
		ID: "active", Vector: []float32{1, 0}, Payload: map[string]any{vectorstore.PayloadIsActive: true},
	}))
	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{
		ID: "inactive", Vector: []float32{1, 0}, Payload: map[string]any{vectorstore.PayloadIsActive: false},
	}))

	filter := vectorstore.Filter{vectorstore.Clause{{Key: vectorstore.PayloadIsActive, Op: vectorstore.OpEq, Value: true}}}
	hits, err := s.Search(ctx, "notes", []float32{1, 0}, 10, filter)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "active", hits[0].ID)
}

func TestUpdatePayloadMergesPartial(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 2))
	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{
		ID: "pt-1", Vector: []float32{1, 0}, Payload: map[string]any{vectorstore.PayloadIsActive: true, "content": "x"},
	}))

	require.NoError(t, s.UpdatePayload(ctx, "notes", "pt-1", map[string]any{vectorstore.PayloadIsActive: false}))

	hits, err := s.Search(ctx, "notes", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, false, hits[0].Payload[vectorstore.PayloadIsActive])
	assert.Equal(t, "x", hits[0].Payload["content"])
}

func TestDeleteRemovesPoint(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 2))
	require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{ID: "pt-1", Vector: []float32{1, 0}, Payload: map[string]any{}}))
	require.NoError(t, s.Delete(ctx, "notes", "pt-1"))

	hits, err := s.Search(ctx, "notes", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScrollPaginatesMatchingPoints(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "notes", 2))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Upsert(ctx, "notes", vectorstore.Point{ID: id, Vector: []float32{1, 0}, Payload: map[string]any{}}))
	}

	page, err := s.Scroll(ctx, "notes", nil, "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Points, 2)
	assert.NotEmpty(t, page.Cursor)

	next, err := s.Scroll(ctx, "notes", nil, page.Cursor, 2)
	require.NoError(t, err)
	assert.Len(t, next.Points, 1)
	assert.Empty(t, next.Cursor)
}

func TestReadyAlwaysSucceeds(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.NoError(t, s.Ready(context.Background()))
}
