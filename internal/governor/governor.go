// Package governor is the C9 Identity Schema Governor: enforces that L0
// entries are created, updated, or deleted only via a fixed
// three-approval state machine, driven exclusively by the Metadata
// Store's try_lock primitive on the status column — never by
// read-then-write.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/metastore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// ApprovalsNeeded is fixed by spec; not configurable per instance
// beyond what the schema requires the key to carry.
const ApprovalsNeeded = 3

// StateTransitioner is the subset of the Metadata Store the Governor
// needs. Declaring it as an interface (rather than depending on
// *metastore.Store directly) breaks the Kernel↔Governor↔MetadataStore
// cycle: the Governor holds a handle to the store, never to the
// Kernel, and reaches the dual-store write only through the Applier
// the Kernel passes to New.
type StateTransitioner interface {
	InsertIdentityChange(ctx context.Context, c *metastore.IdentityChange) error
	GetIdentityChange(ctx context.Context, changeID string) (*metastore.IdentityChange, error)
	UpdateIdentityApprovals(ctx context.Context, changeID string, approvals []types.Approval) error
	MarkIdentityApplied(ctx context.Context, changeID string) error
	TryLock(ctx context.Context, table, id, expectedStatus, newStatus string) (bool, error)
	Unlock(ctx context.Context, table, id, backToStatus string) error
}

// Applier performs the underlying create/update/delete against both
// stores once a proposal reaches three approvals, per the §4.10
// write-compensation pattern. The Kernel supplies this so the Governor
// never depends on the Kernel directly.
type Applier func(ctx context.Context, c *metastore.IdentityChange) error

// Snapshot is the in-memory L0 view: read-mostly, swapped atomically
// under a brief exclusive lock when a change is applied.
type Snapshot struct {
	mu      sync.RWMutex
	entries map[string]types.Memory // target_id -> current L0 content
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entries: make(map[string]types.Memory)}
}

// Get returns the current L0 entries, safe for concurrent reads.
func (s *Snapshot) Get() []types.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Memory, 0, len(s.entries))
	for _, m := range s.entries {
		out = append(out, m)
	}
	return out
}

func (s *Snapshot) put(m types.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[m.ID] = m
}

// LoadAll replaces the snapshot wholesale, used once at Kernel startup
// to rebuild the in-memory L0 view from the identity_changes audit
// trail.
func (s *Snapshot) LoadAll(entries []types.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]types.Memory, len(entries))
	for _, m := range entries {
		s.entries[m.ID] = m
	}
}

func (s *Snapshot) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Governor is the C9 component.
type Governor struct {
	store    StateTransitioner
	snapshot *Snapshot
	apply    Applier
}

// New constructs a Governor. apply performs the underlying dual-store
// write once a proposal is approved.
func New(store StateTransitioner, snapshot *Snapshot, apply Applier) *Governor {
	return &Governor{store: store, snapshot: snapshot, apply: apply}
}

// Propose inserts a new change in status "pending" with no approvals.
func (g *Governor) Propose(ctx context.Context, projectID, targetID string, changeType types.ChangeType, content, reason string, category types.Category) (string, error) {
	now := time.Now().UTC()
	change := &metastore.IdentityChange{
		ChangeID:        uuid.NewString(),
		ProjectID:       projectID,
		TargetID:        targetID,
		ChangeType:      changeType,
		ProposedContent: content,
		Reason:          reason,
		Category:        category,
		Status:          types.PendingStatusPending,
		ApprovalsCount:  0,
		Approvals:       nil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := g.store.InsertIdentityChange(ctx, change); err != nil {
		return "", err
	}
	return change.ChangeID, nil
}

// Approve records one approver's sign-off. A duplicate approver is
// rejected as a Governance violation. The third distinct approval
// transitions the change to applied and triggers the underlying write.
func (g *Governor) Approve(ctx context.Context, changeID, approver, comment string) error {
	locked, err := g.store.TryLock(ctx, "identity_changes", changeID, string(types.PendingStatusPending), "processing")
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("governor: approve %s: %w", changeID, kernelerr.ErrConflict)
	}

	change, err := g.store.GetIdentityChange(ctx, changeID)
	if err != nil {
		_ = g.store.Unlock(ctx, "identity_changes", changeID, string(types.PendingStatusPending))
		return err
	}

	for _, a := range change.Approvals {
		if a.Approver == approver {
			_ = g.store.Unlock(ctx, "identity_changes", changeID, string(types.PendingStatusPending))
			return fmt.Errorf("governor: duplicate approver %s: %w", approver, kernelerr.ErrGovernance)
		}
	}

	change.Approvals = append(change.Approvals, types.Approval{Approver: approver, Comment: comment, Timestamp: time.Now().UTC()})
	if err := g.store.UpdateIdentityApprovals(ctx, changeID, change.Approvals); err != nil {
		_ = g.store.Unlock(ctx, "identity_changes", changeID, string(types.PendingStatusPending))
		return err
	}

	if len(change.Approvals) < ApprovalsNeeded {
		return g.store.Unlock(ctx, "identity_changes", changeID, string(types.PendingStatusPending))
	}

	// Third approval: apply the underlying write, then mark applied.
	if err := g.apply(ctx, change); err != nil {
		_ = g.store.Unlock(ctx, "identity_changes", changeID, string(types.PendingStatusPending))
		return err
	}
	if err := g.store.MarkIdentityApplied(ctx, changeID); err != nil {
		return err
	}
	locked, err = g.store.TryLock(ctx, "identity_changes", changeID, "processing", "applied")
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("governor: apply %s: %w", changeID, kernelerr.ErrConflict)
	}

	if change.ChangeType == types.ChangeDelete {
		g.snapshot.remove(change.TargetID)
	} else {
		g.snapshot.put(types.Memory{
			ID:      change.TargetID,
			Content: change.ProposedContent,
			Layer:   types.LayerIdentitySchema,
			Category: change.Category,
		})
	}
	return nil
}

// Reject moves a pending change straight to rejected.
func (g *Governor) Reject(ctx context.Context, changeID string) error {
	locked, err := g.store.TryLock(ctx, "identity_changes", changeID, string(types.PendingStatusPending), string(types.PendingStatusRejected))
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("governor: reject %s: %w", changeID, kernelerr.ErrConflict)
	}
	return nil
}

// RecoverStuck reverts any change left in "processing" back to
// "pending" (no audit note is written), per the crash-recovery invariant: no
// identity_changes row may remain in processing once the Governor is
// serving traffic.
func (g *Governor) RecoverStuck(ctx context.Context, stuckIDs []string) {
	for _, id := range stuckIDs {
		_ = g.store.Unlock(ctx, "identity_changes", id, string(types.PendingStatusPending))
	}
}
