package kernel

import (
	"context"
	"time"

	"github.com/scrypster/memoryanchor/internal/budget"
	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/temporal"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

// SearchMemory is the Kernel's read path: resolve the collection,
// compose the bi-temporal filter, embed the query, overfetch, discard
// low-score hits, optionally prepend the Identity Schema snapshot, and
// truncate to the project's context budget.
func (k *Kernel) SearchMemory(ctx context.Context, req SearchRequest) ([]SearchResultItem, error) {
	effCfg := k.resolver.Resolve(req.ProjectID)
	collection := project.CollectionName(req.ProjectID)

	extra := temporal.DefaultActiveOnly()
	if req.Layer != nil {
		extra = append(extra, vectorstore.Predicate{Key: vectorstore.PayloadLayer, Op: vectorstore.OpEq, Value: string(*req.Layer)})
	}
	if req.Category != nil {
		extra = append(extra, vectorstore.Predicate{Key: vectorstore.PayloadCategory, Op: vectorstore.OpEq, Value: string(*req.Category)})
	}
	q := temporal.Query{AsOf: req.AsOf, RangeStart: req.RangeStart, RangeEnd: req.RangeEnd, IncludeExpired: req.IncludeExpired}
	filter := temporal.Compose(q, time.Now().UTC(), extra)

	vec, err := k.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	hits, err := k.vectors.Search(ctx, collection, vec, limit*2, filter)
	if err != nil {
		return nil, err
	}

	scored := make([]budget.Scored, 0, len(hits)+len(k.snapshot.Get()))
	for _, h := range hits {
		if h.Score < effCfg.MinSearchScore {
			continue
		}
		scored = append(scored, budget.Scored{Memory: fromPayload(h.Point), Score: h.Score})
	}

	if req.IncludeIdentitySchema || req.Layer == nil {
		for _, m := range k.snapshot.Get() {
			scored = append(scored, budget.Scored{Memory: m, Score: 1.0})
		}
	}

	limits := budget.Limits{
		L0: effCfg.BudgetL0, L1: effCfg.BudgetL1, L2: effCfg.BudgetL2, L3: effCfg.BudgetL3, L4: effCfg.BudgetL4,
		Total: effCfg.BudgetTotal, CharsPerToken: budget.DefaultCharsPerToken,
	}
	result := budget.Truncate(scored, limits)

	items := make([]SearchResultItem, 0, len(result.Kept))
	for _, s := range result.Kept {
		items = append(items, SearchResultItem{
			ID: s.Memory.ID, Content: s.Memory.Content, Layer: s.Memory.Layer, Category: s.Memory.Category,
			Confidence: s.Memory.Confidence, CreatedAt: s.Memory.CreatedAt, ValidAt: s.Memory.ValidAt,
			ExpiresAt: s.Memory.ExpiresAt, Score: s.Score, SessionID: s.Memory.SessionID, RelatedFiles: s.Memory.RelatedFiles,
		})
	}
	return items, nil
}
