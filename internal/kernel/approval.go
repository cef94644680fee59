package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// ApprovePendingMemory runs the approval-commit flow for a pending
// memory staged by confidence routing: try_lock pending→processing,
// record the approver, embed, commit the dual-store write (vector
// first), then try_lock processing→approved and delete the pending
// row. A failed commit soft-compensates the vector write (if any) and
// releases the lock back to pending so the caller can retry. A
// duplicate approver (one already present in the pending memory's
// approvals) is rejected as a Governance violation, same as the
// Identity Schema Governor's distinct-approver rule.
func (k *Kernel) ApprovePendingMemory(ctx context.Context, id, approver, comment string) (*AddMemoryResult, error) {
	locked, err := k.meta.TryLock(ctx, "pending_memories", id, string(types.PendingStatusPending), string(types.PendingStatusProcessing))
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("kernel: approve %s: %w", id, kernelerr.ErrConflict)
	}

	pm, err := k.meta.GetPending(ctx, id)
	if err != nil {
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		return nil, err
	}

	if approver != "" && !pm.DistinctApprovers(approver) {
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		return nil, fmt.Errorf("kernel: approve %s: duplicate approver %s: %w", id, approver, kernelerr.ErrGovernance)
	}
	if approver != "" {
		pm.Approvals = append(pm.Approvals, types.Approval{Approver: approver, Comment: comment, Timestamp: time.Now().UTC()})
		if err := k.meta.UpdateApprovals(ctx, id, pm.Approvals); err != nil {
			_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
			return nil, err
		}
	}

	collection := project.CollectionName(pm.ProjectID)
	effCfg := k.resolver.Resolve(pm.ProjectID)

	vec, err := k.embedder.Embed(ctx, pm.Content)
	if err != nil {
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		return nil, fmt.Errorf("kernel: embed pending %s: %w", id, err)
	}

	vectorWritten := false
	if err := k.vectors.EnsureCollection(ctx, collection, effCfg.VectorDim); err != nil {
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		return nil, err
	}
	// pending rows carry no is_active column; an approved memory is active.
	pm.IsActive = true
	if err := k.vectors.Upsert(ctx, collection, vectorstore.Point{ID: pm.ID, Vector: vec, Payload: toPayload(pm.Memory)}); err != nil {
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		return nil, err
	}
	vectorWritten = true

	locked, err = k.meta.TryLock(ctx, "pending_memories", id, string(types.PendingStatusProcessing), string(types.PendingStatusApproved))
	if err != nil || !locked {
		if vectorWritten {
			_ = k.vectors.UpdatePayload(ctx, collection, pm.ID, map[string]any{vectorstore.PayloadIsActive: false})
		}
		_ = k.meta.Unlock(ctx, "pending_memories", id, string(types.PendingStatusPending))
		if err == nil {
			err = fmt.Errorf("kernel: approve %s: %w", id, kernelerr.ErrConflict)
		}
		return nil, err
	}

	if err := k.meta.DeletePending(ctx, id); err != nil {
		return nil, err
	}
	return &AddMemoryResult{ID: pm.ID, Layer: pm.Layer, Confidence: pm.Confidence}, nil
}

// RejectPendingMemory moves a pending memory straight to rejected
// without ever embedding or writing to the Vector Store.
func (k *Kernel) RejectPendingMemory(ctx context.Context, id string) error {
	locked, err := k.meta.TryLock(ctx, "pending_memories", id, string(types.PendingStatusPending), string(types.PendingStatusRejected))
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("kernel: reject %s: %w", id, kernelerr.ErrConflict)
	}
	return nil
}
