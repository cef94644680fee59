package types

import "time"

// ChecklistStatus is the lifecycle state of a checklist item.
type ChecklistStatus string

const (
	ChecklistOpen      ChecklistStatus = "open"
	ChecklistDone      ChecklistStatus = "done"
	ChecklistCancelled ChecklistStatus = "cancelled"
)

// ChecklistScope bounds where an item is visible.
type ChecklistScope string

const (
	ScopeProject ChecklistScope = "project"
	ScopeSession ChecklistScope = "session"
	ScopeGlobal  ChecklistScope = "global"
)

// ChecklistItem is a prioritized, scoped task tracked by the checklist
// engine (spec.md §3.1).
type ChecklistItem struct {
	ID          string
	ProjectID   string
	Content     string
	Status      ChecklistStatus
	Scope       ChecklistScope
	Priority    int // 1 (highest) .. 5 (lowest)
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time
}

// ShortID returns the stable 8-character reference token agents use to
// cross-reference this item in plans (spec.md §4.12).
func (c *ChecklistItem) ShortID() string {
	if len(c.ID) <= 8 {
		return c.ID
	}
	return c.ID[:8]
}

// SessionState tracks a single working session's footprint (spec.md §3.1).
type SessionState struct {
	SessionID     string
	StartedAt     time.Time
	SourceFiles   map[string]struct{}
	MemoryOpsCount int
	FileModsCount int
	EndedAt       *time.Time
}
