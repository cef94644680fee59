package checklist

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/pkg/types"
)

type fakeStore struct {
	items map[string]*types.ChecklistItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*types.ChecklistItem)}
}

func (f *fakeStore) UpsertChecklistItem(_ context.Context, item *types.ChecklistItem) error {
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeStore) GetChecklistItem(_ context.Context, id string) (*types.ChecklistItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, kernelerr.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) ListChecklistItems(_ context.Context, projectID string, status types.ChecklistStatus) ([]*types.ChecklistItem, error) {
	var out []*types.ChecklistItem
	for _, it := range f.items {
		if it.ProjectID == projectID && it.Status == status {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteChecklistItem(_ context.Context, id string) error {
	delete(f.items, id)
	return nil
}

func TestCreateAndList(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	_, err := e.Create(context.Background(), "proj", "write the docs", types.ScopeProject, 2, []string{"docs"})
	require.NoError(t, err)

	items, err := e.List(context.Background(), "proj", types.ChecklistOpen)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "write the docs", items[0].Content)
}

func TestUpdateSetsCompletedAtOnceOnly(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	item, err := e.Create(context.Background(), "proj", "ship it", types.ScopeProject, 1, nil)
	require.NoError(t, err)

	updated, err := e.Update(context.Background(), item.ID, func(it *types.ChecklistItem) { it.Status = types.ChecklistDone })
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	firstCompletedAt := *updated.CompletedAt

	updated, err = e.Update(context.Background(), item.ID, func(it *types.ChecklistItem) { it.Priority = 3 })
	require.NoError(t, err)
	assert.Equal(t, firstCompletedAt, *updated.CompletedAt)
}

func TestBriefingOrdersByPriorityThenCreatedAt(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	_, err := e.Create(context.Background(), "proj", "low priority", types.ScopeProject, 5, nil)
	require.NoError(t, err)
	_, err = e.Create(context.Background(), "proj", "high priority", types.ScopeProject, 1, nil)
	require.NoError(t, err)

	brief, err := e.Briefing(context.Background(), "proj", 10)
	require.NoError(t, err)
	highIdx := strings.Index(brief, "high priority")
	lowIdx := strings.Index(brief, "low priority")
	require.True(t, highIdx >= 0 && lowIdx >= 0)
	assert.True(t, highIdx < lowIdx, "higher priority item must appear first")
}

func TestBriefingRespectsLimit(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	for i := 0; i < 5; i++ {
		_, err := e.Create(context.Background(), "proj", "item", types.ScopeProject, 3, nil)
		require.NoError(t, err)
	}
	brief, err := e.Briefing(context.Background(), "proj", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(brief, "- [ ]"))
}

func TestSyncFromPlanMarksCheckedItemsDone(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	item, err := e.Create(context.Background(), "proj", "review the PR", types.ScopeProject, 2, nil)
	require.NoError(t, err)

	plan := "- [x] (ma:" + item.ShortID() + ") review the PR\n"
	updated, err := e.SyncFromPlan(context.Background(), "proj", plan)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := store.GetChecklistItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChecklistDone, got.Status)
}

func TestSyncFromPlanIgnoresUnknownReferences(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	updated, err := e.SyncFromPlan(context.Background(), "proj", "- [x] (ma:deadbeef) some unrelated task\n")
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}
