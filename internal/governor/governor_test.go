package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/metastore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// fakeStore is an in-memory StateTransitioner, grounded the same way the
// corpus's contradiction-detector tests fake their store: a map plus the
// exact interface methods, no SQL involved.
type fakeStore struct {
	mu      sync.Mutex
	changes map[string]*metastore.IdentityChange
}

func newFakeStore() *fakeStore {
	return &fakeStore{changes: make(map[string]*metastore.IdentityChange)}
}

func (f *fakeStore) InsertIdentityChange(_ context.Context, c *metastore.IdentityChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.changes[c.ChangeID] = &cp
	return nil
}

func (f *fakeStore) GetIdentityChange(_ context.Context, changeID string) (*metastore.IdentityChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[changeID]
	if !ok {
		return nil, kernelerr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateIdentityApprovals(_ context.Context, changeID string, approvals []types.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[changeID]
	if !ok {
		return kernelerr.ErrNotFound
	}
	c.Approvals = approvals
	c.ApprovalsCount = len(approvals)
	return nil
}

func (f *fakeStore) MarkIdentityApplied(_ context.Context, changeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[changeID]
	if !ok {
		return kernelerr.ErrNotFound
	}
	now := time.Now().UTC()
	c.AppliedAt = &now
	return nil
}

func (f *fakeStore) TryLock(_ context.Context, _, id, expectedStatus, newStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[id]
	if !ok {
		return false, nil
	}
	if string(c.Status) != expectedStatus {
		return false, nil
	}
	c.Status = types.PendingStatus(newStatus)
	return true, nil
}

func (f *fakeStore) Unlock(_ context.Context, _, id, backToStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.changes[id]
	if !ok {
		return kernelerr.ErrNotFound
	}
	c.Status = types.PendingStatus(backToStatus)
	return nil
}

func TestProposeInsertsPendingChange(t *testing.T) {
	store := newFakeStore()
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error { return nil })

	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "alice likes tea", "user said so", types.CategoryPerson)
	require.NoError(t, err)

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusPending, c.Status)
	assert.Equal(t, "proj", c.ProjectID)
	assert.Equal(t, "target-1", c.TargetID)
}

func TestApproveBelowThresholdStaysPending(t *testing.T) {
	store := newFakeStore()
	applyCalled := false
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error {
		applyCalled = true
		return nil
	})
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)

	require.NoError(t, g.Approve(context.Background(), changeID, "alice", "looks right"))
	require.NoError(t, g.Approve(context.Background(), changeID, "bob", "agreed"))

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusPending, c.Status)
	assert.False(t, applyCalled)
}

func TestApproveThirdDistinctApproverApplies(t *testing.T) {
	store := newFakeStore()
	var applied *metastore.IdentityChange
	g := New(store, NewSnapshot(), func(_ context.Context, c *metastore.IdentityChange) error {
		applied = c
		return nil
	})
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)

	require.NoError(t, g.Approve(context.Background(), changeID, "alice", ""))
	require.NoError(t, g.Approve(context.Background(), changeID, "bob", ""))
	require.NoError(t, g.Approve(context.Background(), changeID, "carol", ""))

	require.NotNil(t, applied)
	assert.Equal(t, "target-1", applied.TargetID)

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatus("applied"), c.Status)

	snap := g.snapshot.Get()
	require.Len(t, snap, 1)
	assert.Equal(t, "target-1", snap[0].ID)
}

func TestApproveDuplicateApproverRejected(t *testing.T) {
	store := newFakeStore()
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error { return nil })
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)

	require.NoError(t, g.Approve(context.Background(), changeID, "alice", ""))
	err = g.Approve(context.Background(), changeID, "alice", "again")
	assert.ErrorIs(t, err, kernelerr.ErrGovernance)

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusPending, c.Status)
}

func TestApproveFailureUnlocksBackToPending(t *testing.T) {
	store := newFakeStore()
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error {
		return assert.AnError
	})
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)

	require.NoError(t, g.Approve(context.Background(), changeID, "alice", ""))
	require.NoError(t, g.Approve(context.Background(), changeID, "bob", ""))
	err = g.Approve(context.Background(), changeID, "carol", "")
	assert.Error(t, err)

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusPending, c.Status)
}

func TestRejectMovesStraightToRejected(t *testing.T) {
	store := newFakeStore()
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error { return nil })
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)

	require.NoError(t, g.Reject(context.Background(), changeID))

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusRejected, c.Status)
}

func TestRecoverStuckRevertsProcessingToPending(t *testing.T) {
	store := newFakeStore()
	g := New(store, NewSnapshot(), func(context.Context, *metastore.IdentityChange) error { return nil })
	changeID, err := g.Propose(context.Background(), "proj", "target-1", types.ChangeCreate, "content", "reason", types.CategoryPerson)
	require.NoError(t, err)
	store.changes[changeID].Status = types.PendingStatusProcessing

	g.RecoverStuck(context.Background(), []string{changeID})

	c, err := store.GetIdentityChange(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, types.PendingStatusPending, c.Status)
}
