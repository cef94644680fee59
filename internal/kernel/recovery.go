package kernel

import (
	"context"
	"log"

	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// RecoverOnStartup reverts rows stuck in "processing" back to their
// pre-lock state (a crash mid-approval leaves no durable trace beyond
// this) and soft-deletes any vector point whose metadata counterpart
// has since been rejected or expired.
func (k *Kernel) RecoverOnStartup(ctx context.Context) error {
	stuckPending, err := k.meta.ListPendingByStatus(ctx, string(types.PendingStatusProcessing))
	if err != nil {
		return err
	}
	for _, p := range stuckPending {
		if err := k.meta.Unlock(ctx, "pending_memories", p.ID, string(types.PendingStatusPending)); err != nil {
			log.Printf("kernel: recovery: revert pending %s: %v", p.ID, err)
		}
	}

	stuckIdentity, err := k.meta.ListIdentityByStatus(ctx, "processing")
	if err != nil {
		return err
	}
	if len(stuckIdentity) > 0 {
		ids := make([]string, len(stuckIdentity))
		for i, c := range stuckIdentity {
			ids[i] = c.ChangeID
		}
		k.governor.RecoverStuck(ctx, ids)
	}

	for _, status := range []string{string(types.PendingStatusRejected), string(types.PendingStatusExpired)} {
		rows, err := k.meta.ListPendingByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, p := range rows {
			collection := project.CollectionName(p.ProjectID)
			_ = k.vectors.UpdatePayload(ctx, collection, p.ID, map[string]any{vectorstore.PayloadIsActive: false})
		}
	}

	return nil
}
