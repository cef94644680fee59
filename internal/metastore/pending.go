package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// InsertPending inserts a new pending memory row in status "pending".
func (s *Store) InsertPending(ctx context.Context, p *types.PendingMemory) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	approvals, err := json.Marshal(p.Approvals)
	if err != nil {
		return fmt.Errorf("metastore: marshal approvals: %w", err)
	}
	relatedFiles, err := json.Marshal(p.RelatedFiles)
	if err != nil {
		return fmt.Errorf("metastore: marshal related_files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_memories (
			id, project_id, content, layer, category, confidence, change_type, proposer,
			reason, target_id, status, approvals, valid_at, expires_at,
			session_id, created_by, related_files, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		p.ID, p.ProjectID, p.Content, string(p.Layer), string(p.Category), p.Confidence, string(p.ChangeType), p.Proposer,
		p.Reason, p.TargetID, string(p.Status), string(approvals), formatTimePtr(p.ValidAt), formatTimePtr(p.ExpiresAt),
		p.SessionID, p.CreatedBy, string(relatedFiles), p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("metastore: insert pending: %w", err)
	}
	return nil
}

// GetPending fetches a pending memory by id.
func (s *Store) GetPending(ctx context.Context, id string) (*types.PendingMemory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, layer, category, confidence, change_type, proposer,
			reason, target_id, status, approvals, valid_at, expires_at,
			session_id, created_by, related_files, created_at, updated_at
		FROM pending_memories WHERE id = ?
	`, id)
	return scanPending(row)
}

// ListPendingByStatus lists pending memories in a given status, oldest
// first, for the startup recovery scan.
func (s *Store) ListPendingByStatus(ctx context.Context, status string) ([]*types.PendingMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, layer, category, confidence, change_type, proposer,
			reason, target_id, status, approvals, valid_at, expires_at,
			session_id, created_by, related_files, created_at, updated_at
		FROM pending_memories WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("metastore: list pending: %w", err)
	}
	defer rows.Close()

	var out []*types.PendingMemory
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateApprovals overwrites the approvals list for a pending memory
// still in status "pending"/"processing". Called after TryLock has
// already moved the row to "processing" to avoid a lost-update race
// between two approvers.
func (s *Store) UpdateApprovals(ctx context.Context, id string, approvals []types.Approval) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	encoded, err := json.Marshal(approvals)
	if err != nil {
		return fmt.Errorf("metastore: marshal approvals: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE pending_memories SET approvals = ?, updated_at = ? WHERE id = ?`,
		string(encoded), nowRFC3339(), id,
	)
	if err != nil {
		return fmt.Errorf("metastore: update approvals: %w", err)
	}
	return nil
}

// DeletePending removes a pending memory row, used once its approval
// has been committed to the active stores.
func (s *Store) DeletePending(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("metastore: delete pending: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*types.PendingMemory, error) {
	var (
		p                                     types.PendingMemory
		layer, category, changeType, status   string
		approvalsJSON, relatedFilesJSON        string
		validAt, expiresAt                     sql.NullString
		createdAt, updatedAt                   string
	)
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.Content, &layer, &category, &p.Confidence, &changeType, &p.Proposer,
		&p.Reason, &p.TargetID, &status, &approvalsJSON, &validAt, &expiresAt,
		&p.SessionID, &p.CreatedBy, &relatedFilesJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, kernelerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: scan pending: %w", err)
	}

	p.Layer = types.Layer(layer)
	p.Category = types.Category(category)
	p.ChangeType = types.ChangeType(changeType)
	p.Status = types.PendingStatus(status)

	if err := json.Unmarshal([]byte(approvalsJSON), &p.Approvals); err != nil {
		return nil, fmt.Errorf("metastore: decode approvals: %w", err)
	}
	if strings.TrimSpace(relatedFilesJSON) != "" {
		if err := json.Unmarshal([]byte(relatedFilesJSON), &p.RelatedFiles); err != nil {
			return nil, fmt.Errorf("metastore: decode related_files: %w", err)
		}
	}
	p.ValidAt = parseTimePtr(validAt)
	p.ExpiresAt = parseTimePtr(expiresAt)
	p.CreatedAt = mustParseTime(createdAt)
	p.UpdatedAt = mustParseTime(updatedAt)

	return &p, nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := mustParseTime(v.String)
	return &t
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
