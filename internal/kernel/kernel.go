// Package kernel is C10 + C11: the Memory Kernel that orchestrates
// every other component into a single synchronous API, and the
// process-wide singleton that owns its lifetime.
package kernel

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memoryanchor/internal/conflict"
	"github.com/scrypster/memoryanchor/internal/embedding"
	"github.com/scrypster/memoryanchor/internal/governor"
	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/internal/metastore"
	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/safety"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// Kernel is the C10 Memory Kernel.
type Kernel struct {
	vectors  vectorstore.VectorStore
	meta     *metastore.Store
	embedder embedding.Embedder
	safety   *safety.Filter
	resolver *project.Resolver
	governor *governor.Governor
	snapshot *governor.Snapshot
}

// New constructs a Kernel and rebuilds the Identity Schema snapshot
// from the applied identity_changes audit trail. Callers almost always
// want GetKernel instead of calling New directly.
func New(ctx context.Context, vectors vectorstore.VectorStore, meta *metastore.Store, embedder embedding.Embedder, safetyFilter *safety.Filter, resolver *project.Resolver) (*Kernel, error) {
	if err := vectors.Ready(ctx); err != nil {
		return nil, err
	}

	snapshot := governor.NewSnapshot()
	k := &Kernel{
		vectors:  vectors,
		meta:     meta,
		embedder: embedder,
		safety:   safetyFilter,
		resolver: resolver,
		snapshot: snapshot,
	}
	k.governor = governor.New(meta, snapshot, k.applyIdentityChange)

	if err := k.loadSnapshot(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// loadSnapshot rebuilds the L0 in-memory view by folding every applied
// identity change in insertion order: later changes to the same
// target_id overwrite earlier ones, deletes remove the entry.
func (k *Kernel) loadSnapshot(ctx context.Context) error {
	changes, err := k.meta.ListAppliedIdentityChanges(ctx)
	if err != nil {
		return err
	}
	entries := make(map[string]types.Memory)
	for _, c := range changes {
		if c.ChangeType == types.ChangeDelete {
			delete(entries, c.TargetID)
			continue
		}
		entries[c.TargetID] = types.Memory{
			ID:        c.TargetID,
			Content:   c.ProposedContent,
			Layer:     types.LayerIdentitySchema,
			Category:  c.Category,
			CreatedAt: c.CreatedAt,
			IsActive:  true,
		}
	}
	flat := make([]types.Memory, 0, len(entries))
	for _, m := range entries {
		flat = append(flat, m)
	}
	k.snapshot.LoadAll(flat)
	return nil
}

// Governor exposes the Identity Schema Governor for direct
// propose/approve/reject calls.
func (k *Kernel) Governor() *governor.Governor { return k.governor }

// applyIdentityChange is the Governor's Applier: once a proposal
// reaches three approvals, this performs the underlying vector-store
// mutation. The identity_changes row itself is the metadata side of
// this write, and is advanced by the Governor, not here.
func (k *Kernel) applyIdentityChange(ctx context.Context, c *metastore.IdentityChange) error {
	collection := project.CollectionName(c.ProjectID)

	if c.ChangeType == types.ChangeDelete {
		return k.vectors.UpdatePayload(ctx, collection, c.TargetID, map[string]any{
			vectorstore.PayloadIsActive: false,
		})
	}

	vec, err := k.embedder.Embed(ctx, c.ProposedContent)
	if err != nil {
		return fmt.Errorf("kernel: embed identity change %s: %w", c.ChangeID, err)
	}
	now := time.Now().UTC()
	mem := types.Memory{
		ID:        c.TargetID,
		Content:   c.ProposedContent,
		Layer:     types.LayerIdentitySchema,
		Category:  c.Category,
		CreatedAt: now,
		ValidAt:   &now,
		IsActive:  true,
	}
	effCfg := k.resolver.Resolve(c.ProjectID)
	if err := k.vectors.EnsureCollection(ctx, collection, effCfg.VectorDim); err != nil {
		return err
	}
	return k.vectors.Upsert(ctx, collection, vectorstore.Point{ID: mem.ID, Vector: vec, Payload: toPayload(mem)})
}

// AddMemory is the Kernel's write path: normalize, gate L0 to the
// Governor, filter, route by confidence, default bi-temporal fields,
// detect conflicts, and commit.
func (k *Kernel) AddMemory(ctx context.Context, req AddMemoryRequest) (*AddMemoryResult, error) {
	layer, ok := types.ParseLayer(req.Layer)
	if !ok {
		return nil, fmt.Errorf("kernel: unrecognized layer %q: %w", req.Layer, kernelerr.ErrInvalidArgument)
	}
	category := types.Category(req.Category)
	if !types.ValidCategory(category) {
		return nil, fmt.Errorf("kernel: unrecognized category %q: %w", req.Category, kernelerr.ErrInvalidArgument)
	}
	if req.Confidence < 0 || req.Confidence > 1 || math.IsNaN(req.Confidence) {
		return nil, fmt.Errorf("kernel: confidence %v out of [0,1]: %w", req.Confidence, kernelerr.ErrInvalidArgument)
	}
	now := time.Now().UTC()

	// Gate L0: identity-schema writes never touch the stores directly.
	if layer == types.LayerIdentitySchema {
		changeType := req.ChangeType
		if changeType == "" {
			changeType = types.ChangeCreate
		}
		targetID := req.TargetID
		if targetID == "" {
			targetID = uuid.NewString()
		}
		changeID, err := k.governor.Propose(ctx, req.ProjectID, targetID, changeType, req.Content, req.Reason, category)
		if err != nil {
			return nil, err
		}
		return &AddMemoryResult{ID: changeID, Layer: layer, Confidence: req.Confidence, Pending: true}, nil
	}

	effCfg := k.resolver.Resolve(req.ProjectID)
	content := req.Content
	var findings []safety.Finding
	if effCfg.SafetyEnabled {
		result, err := k.safety.Inspect(content)
		if err != nil {
			return nil, err
		}
		content = result.SanitizedContent
		findings = result.Findings
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("kernel: empty content: %w", kernelerr.ErrInvalidArgument)
	}

	validAt := req.ValidAt
	if validAt == nil {
		validAt = &now
	}
	if req.ExpiresAt != nil && validAt.After(*req.ExpiresAt) {
		return nil, fmt.Errorf("kernel: valid_at after expires_at: %w", kernelerr.ErrInvalidArgument)
	}

	collection := project.CollectionName(req.ProjectID)

	switch {
	case req.Confidence >= effCfg.ConfidenceAuto:
		mem := types.Memory{
			ID: uuid.NewString(), Content: content, Layer: layer, Category: category,
			Confidence: req.Confidence, CreatedAt: now, ValidAt: validAt, ExpiresAt: req.ExpiresAt,
			CreatedBy: req.CreatedBy, SessionID: req.SessionID, RelatedFiles: req.RelatedFiles, IsActive: true,
		}
		vec, err := k.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("kernel: embed: %w", err)
		}
		warning := k.detectConflicts(ctx, collection, mem, vec)
		if err := k.commitVectorOnly(ctx, collection, effCfg.VectorDim, mem, vec); err != nil {
			return nil, err
		}
		return &AddMemoryResult{ID: mem.ID, Layer: layer, Confidence: req.Confidence, ConflictWarning: &warning, SafetyFindings: findings}, nil

	case req.Confidence >= effCfg.ConfidencePend:
		pm := &types.PendingMemory{
			Memory: types.Memory{
				ID: uuid.NewString(), Content: content, Layer: layer, Category: category,
				Confidence: req.Confidence, CreatedAt: now, ValidAt: validAt, ExpiresAt: req.ExpiresAt,
				CreatedBy: req.CreatedBy, SessionID: req.SessionID, RelatedFiles: req.RelatedFiles, IsActive: true,
			},
			ProjectID:  req.ProjectID,
			Status:     types.PendingStatusPending,
			Proposer:   req.CreatedBy,
			Reason:     req.Reason,
			TargetID:   req.TargetID,
			ChangeType: req.ChangeType,
			UpdatedAt:  now,
		}
		if err := k.meta.InsertPending(ctx, pm); err != nil {
			return nil, err
		}
		return &AddMemoryResult{ID: pm.ID, Layer: layer, Confidence: req.Confidence, Pending: true, SafetyFindings: findings}, nil

	default:
		return nil, fmt.Errorf("kernel: confidence %.2f below pending_min %.2f: %w", req.Confidence, effCfg.ConfidencePend, kernelerr.ErrLowConfidence)
	}
}

// detectConflicts embeds once (by the caller) and compares against a
// small pool of active candidates in the same collection. Search
// failures are treated as "no conflict found" rather than failing the
// write: conflict detection is advisory and must never block a write.
func (k *Kernel) detectConflicts(ctx context.Context, collection string, mem types.Memory, vec []float32) conflict.Warning {
	filter := vectorstore.Filter{vectorstore.Clause{
		{Key: vectorstore.PayloadIsActive, Op: vectorstore.OpEq, Value: true},
	}}
	hits, err := k.vectors.Search(ctx, collection, vec, 20, filter)
	if err != nil {
		return conflict.Warning{Kind: conflict.KindNone}
	}
	candidates := make([]conflict.Candidate, 0, len(hits))
	for _, h := range hits {
		if h.ID == mem.ID {
			continue
		}
		candidates = append(candidates, conflict.Candidate{Memory: fromPayload(h.Point), Vector: h.Vector})
	}
	return conflict.Detect(mem, vec, candidates)
}

// commitVectorOnly is the happy-path commit for writes that touch only
// the Vector Store (no pending-row, no identity-change row involved).
func (k *Kernel) commitVectorOnly(ctx context.Context, collection string, dim int, mem types.Memory, vec []float32) error {
	if err := k.vectors.EnsureCollection(ctx, collection, dim); err != nil {
		return err
	}
	return k.vectors.Upsert(ctx, collection, vectorstore.Point{ID: mem.ID, Vector: vec, Payload: toPayload(mem)})
}

// closer is satisfied by backends that hold a connection worth closing
// (pgstore). chromemstore has nothing to flush and does not implement it.
type closer interface {
	Close() error
}

// Close flushes the Metadata Store and closes the Vector Store backend,
// in that order, per the stop sequence: flush pending Metadata Store
// transactions, then close stores.
func (k *Kernel) Close() error {
	metaErr := k.meta.Close()
	var vecErr error
	if c, ok := k.vectors.(closer); ok {
		vecErr = c.Close()
	}
	if metaErr != nil {
		return fmt.Errorf("kernel: close metadata store: %w", metaErr)
	}
	if vecErr != nil {
		return fmt.Errorf("kernel: close vector store: %w", vecErr)
	}
	return nil
}
