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

// IdentityChange is one row of the identity_changes audit trail (C9).
type IdentityChange struct {
	ChangeID        string
	ProjectID       string
	TargetID        string
	ChangeType      types.ChangeType
	ProposedContent string
	Reason          string
	Category        types.Category
	Status          types.PendingStatus
	ApprovalsCount  int
	Approvals       []types.Approval
	CreatedAt       time.Time
	UpdatedAt       time.Time
	AppliedAt       *time.Time
}

// InsertIdentityChange inserts a new identity-schema proposal in status
// "pending".
func (s *Store) InsertIdentityChange(ctx context.Context, c *IdentityChange) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	approvals, err := json.Marshal(c.Approvals)
	if err != nil {
		return fmt.Errorf("metastore: marshal approvals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identity_changes (
			change_id, project_id, target_id, change_type, proposed_content, reason, category,
			status, approvals_count, approvals, created_at, updated_at, applied_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		c.ChangeID, c.ProjectID, c.TargetID, string(c.ChangeType), c.ProposedContent, c.Reason, string(c.Category),
		string(c.Status), c.ApprovalsCount, string(approvals),
		c.CreatedAt.UTC().Format(time.RFC3339Nano), c.UpdatedAt.UTC().Format(time.RFC3339Nano), formatTimePtr(c.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("metastore: insert identity change: %w", err)
	}
	return nil
}

// GetIdentityChange fetches one proposal by id.
func (s *Store) GetIdentityChange(ctx context.Context, changeID string) (*IdentityChange, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT change_id, project_id, target_id, change_type, proposed_content, reason, category,
			status, approvals_count, approvals, created_at, updated_at, applied_at
		FROM identity_changes WHERE change_id = ?
	`, changeID)
	return scanIdentityChange(row)
}

// UpdateIdentityApprovals overwrites the stored approvals with the given
// list (the caller passes it with the new approval already appended)
// and sets the count to its length. Called after TryLock has already moved the
// row to "processing".
func (s *Store) UpdateIdentityApprovals(ctx context.Context, changeID string, approvals []types.Approval) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	encoded, err := json.Marshal(approvals)
	if err != nil {
		return fmt.Errorf("metastore: marshal approvals: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE identity_changes SET approvals = ?, approvals_count = ?, updated_at = ? WHERE change_id = ?`,
		string(encoded), len(approvals), nowRFC3339(), changeID,
	)
	if err != nil {
		return fmt.Errorf("metastore: update identity approvals: %w", err)
	}
	return nil
}

// MarkIdentityApplied stamps applied_at once the underlying store
// mutation has been committed.
func (s *Store) MarkIdentityApplied(ctx context.Context, changeID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE identity_changes SET applied_at = ?, updated_at = ? WHERE change_id = ?`,
		nowRFC3339(), nowRFC3339(), changeID,
	)
	if err != nil {
		return fmt.Errorf("metastore: mark identity applied: %w", err)
	}
	return nil
}

// ListIdentityByStatus lists identity changes in a given status, oldest
// first, for the startup recovery scan.
func (s *Store) ListIdentityByStatus(ctx context.Context, status string) ([]*IdentityChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, project_id, target_id, change_type, proposed_content, reason, category,
			status, approvals_count, approvals, created_at, updated_at, applied_at
		FROM identity_changes WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("metastore: list identity changes: %w", err)
	}
	defer rows.Close()

	var out []*IdentityChange
	for rows.Next() {
		c, err := scanIdentityChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAppliedIdentityChanges lists every applied change, oldest first,
// for rebuilding the in-memory L0 snapshot at startup.
func (s *Store) ListAppliedIdentityChanges(ctx context.Context) ([]*IdentityChange, error) {
	return s.ListIdentityByStatus(ctx, "applied")
}

func scanIdentityChange(row rowScanner) (*IdentityChange, error) {
	var (
		c                             IdentityChange
		changeType, category, status  string
		approvalsJSON                 string
		createdAt, updatedAt          string
		appliedAt                     sql.NullString
	)
	err := row.Scan(
		&c.ChangeID, &c.ProjectID, &c.TargetID, &changeType, &c.ProposedContent, &c.Reason, &category,
		&status, &c.ApprovalsCount, &approvalsJSON, &createdAt, &updatedAt, &appliedAt,
	)
	if err == sql.ErrNoRows {
		return nil, kernelerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: scan identity change: %w", err)
	}
	c.ChangeType = types.ChangeType(changeType)
	c.Category = types.Category(category)
	c.Status = types.PendingStatus(status)
	if err := json.Unmarshal([]byte(approvalsJSON), &c.Approvals); err != nil {
		return nil, fmt.Errorf("metastore: decode approvals: %w", err)
	}
	c.CreatedAt = mustParseTime(createdAt)
	c.UpdatedAt = mustParseTime(updatedAt)
	c.AppliedAt = parseTimePtr(appliedAt)
	return &c, nil
}
