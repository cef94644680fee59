// Package checklist is C13: prioritized, scoped task lists with a
// compact markdown briefing for session start and a forgiving
// plan-markdown sync that updates item status from checkbox state.
package checklist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memoryanchor/pkg/types"
)

// Store is the subset of the Metadata Store the checklist engine needs.
type Store interface {
	UpsertChecklistItem(ctx context.Context, item *types.ChecklistItem) error
	GetChecklistItem(ctx context.Context, id string) (*types.ChecklistItem, error)
	ListChecklistItems(ctx context.Context, projectID string, status types.ChecklistStatus) ([]*types.ChecklistItem, error)
	DeleteChecklistItem(ctx context.Context, id string) error
}

// Engine is the C13 Checklist Engine.
type Engine struct {
	store Store
}

// New constructs an Engine over store.
func New(store Store) *Engine { return &Engine{store: store} }

// Create adds a new open item.
func (e *Engine) Create(ctx context.Context, projectID, content string, scope types.ChecklistScope, priority int, tags []string) (*types.ChecklistItem, error) {
	now := time.Now().UTC()
	item := &types.ChecklistItem{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Content:   content,
		Status:    types.ChecklistOpen,
		Scope:     scope,
		Priority:  priority,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.UpsertChecklistItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Update applies a partial patch to an existing item.
func (e *Engine) Update(ctx context.Context, id string, patch func(*types.ChecklistItem)) (*types.ChecklistItem, error) {
	item, err := e.store.GetChecklistItem(ctx, id)
	if err != nil {
		return nil, err
	}
	patch(item)
	item.UpdatedAt = time.Now().UTC()
	if item.Status == types.ChecklistDone && item.CompletedAt == nil {
		now := time.Now().UTC()
		item.CompletedAt = &now
	}
	if err := e.store.UpsertChecklistItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes an item.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.DeleteChecklistItem(ctx, id)
}

// List returns a project's items in the given status.
func (e *Engine) List(ctx context.Context, projectID string, status types.ChecklistStatus) ([]*types.ChecklistItem, error) {
	return e.store.ListChecklistItems(ctx, projectID, status)
}

// Briefing returns the top-N open items for projectID ordered by
// (priority asc, created_at asc) as a compact markdown digest. Each
// item is rendered with its stable short id token.
func (e *Engine) Briefing(ctx context.Context, projectID string, limit int) (string, error) {
	if limit <= 0 {
		limit = 12
	}
	items, err := e.store.ListChecklistItems(ctx, projectID, types.ChecklistOpen)
	if err != nil {
		return "", err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	var b strings.Builder
	b.WriteString("# Checklist\n\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- [ ] (ma:%s) %s\n", it.ShortID(), it.Content)
	}
	return b.String(), nil
}

var checklistLine = regexp.MustCompile(`(?i)^\s*-\s*\[( |x)\]\s*\(ma:([a-z0-9]{8})\)`)

// SyncFromPlan parses planText for `[x]`/`[ ]` checkboxes carrying a
// `(ma:<prefix>)` back-reference and updates the matching item's
// status. Items referenced but not found are ignored, never created.
// The parser tolerates surrounding whitespace and mixed case.
func (e *Engine) SyncFromPlan(ctx context.Context, projectID, planText string) (int, error) {
	items, err := e.store.ListChecklistItems(ctx, projectID, types.ChecklistOpen)
	if err != nil {
		return 0, err
	}
	byPrefix := make(map[string]*types.ChecklistItem, len(items))
	for _, it := range items {
		byPrefix[strings.ToLower(it.ShortID())] = it
	}

	updated := 0
	for _, line := range strings.Split(planText, "\n") {
		m := checklistLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		checked := strings.EqualFold(m[1], "x")
		prefix := strings.ToLower(m[2])
		item, ok := byPrefix[prefix]
		if !ok {
			continue
		}
		if checked {
			item.Status = types.ChecklistDone
			now := time.Now().UTC()
			item.CompletedAt = &now
		}
		item.UpdatedAt = time.Now().UTC()
		if err := e.store.UpsertChecklistItem(ctx, item); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
