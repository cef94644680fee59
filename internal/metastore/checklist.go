package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// UpsertChecklistItem inserts or replaces a checklist item.
func (s *Store) UpsertChecklistItem(ctx context.Context, item *types.ChecklistItem) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("metastore: marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checklist_items (
			id, project_id, content, status, scope, priority, tags,
			created_at, updated_at, completed_at, expires_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, status = excluded.status, scope = excluded.scope,
			priority = excluded.priority, tags = excluded.tags, updated_at = excluded.updated_at,
			completed_at = excluded.completed_at, expires_at = excluded.expires_at
	`,
		item.ID, item.ProjectID, item.Content, string(item.Status), string(item.Scope), item.Priority, string(tags),
		item.CreatedAt.UTC().Format(time.RFC3339Nano), item.UpdatedAt.UTC().Format(time.RFC3339Nano),
		formatTimePtr(item.CompletedAt), formatTimePtr(item.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("metastore: upsert checklist item: %w", err)
	}
	return nil
}

// GetChecklistItem fetches one item by id.
func (s *Store) GetChecklistItem(ctx context.Context, id string) (*types.ChecklistItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, status, scope, priority, tags,
			created_at, updated_at, completed_at, expires_at
		FROM checklist_items WHERE id = ?
	`, id)
	return scanChecklistItem(row)
}

// ListChecklistItems lists items for a project (plus global-scope items)
// in a given status, ordered by priority ascending (1 = highest) then
// creation time.
func (s *Store) ListChecklistItems(ctx context.Context, projectID string, status types.ChecklistStatus) ([]*types.ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, status, scope, priority, tags,
			created_at, updated_at, completed_at, expires_at
		FROM checklist_items
		WHERE status = ? AND (project_id = ? OR scope = 'global')
		ORDER BY priority ASC, created_at ASC
	`, string(status), projectID)
	if err != nil {
		return nil, fmt.Errorf("metastore: list checklist items: %w", err)
	}
	defer rows.Close()

	var out []*types.ChecklistItem
	for rows.Next() {
		item, err := scanChecklistItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanChecklistItem(row rowScanner) (*types.ChecklistItem, error) {
	var (
		item                  types.ChecklistItem
		status, scope         string
		tagsJSON              string
		createdAt, updatedAt  string
		completedAt, expiresAt sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.ProjectID, &item.Content, &status, &scope, &item.Priority, &tagsJSON,
		&createdAt, &updatedAt, &completedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, kernelerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: scan checklist item: %w", err)
	}
	item.Status = types.ChecklistStatus(status)
	item.Scope = types.ChecklistScope(scope)
	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return nil, fmt.Errorf("metastore: decode tags: %w", err)
	}
	item.CreatedAt = mustParseTime(createdAt)
	item.UpdatedAt = mustParseTime(updatedAt)
	item.CompletedAt = parseTimePtr(completedAt)
	item.ExpiresAt = parseTimePtr(expiresAt)
	return &item, nil
}

// DeleteChecklistItem removes an item by id.
func (s *Store) DeleteChecklistItem(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM checklist_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("metastore: delete checklist item: %w", err)
	}
	return nil
}
