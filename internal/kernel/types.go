package kernel

import (
	"time"

	"github.com/scrypster/memoryanchor/internal/conflict"
	"github.com/scrypster/memoryanchor/internal/safety"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// AddMemoryRequest is everything add_memory accepts. Layer and Category
// are raw strings so legacy aliases normalize inside the Kernel rather
// than at every caller.
type AddMemoryRequest struct {
	ProjectID    string
	Content      string
	Layer        string
	Category     string
	Confidence   float64
	ValidAt      *time.Time
	ExpiresAt    *time.Time
	CreatedBy    string
	SessionID    string
	RelatedFiles []string

	// Reason/TargetID/ChangeType only apply to identity_schema writes,
	// which the Kernel routes to the Governor instead of writing
	// directly.
	Reason     string
	TargetID   string
	ChangeType types.ChangeType
}

// AddMemoryResult is add_memory's return value.
type AddMemoryResult struct {
	ID              string
	Layer           types.Layer
	Confidence      float64
	Pending         bool
	ConflictWarning *conflict.Warning
	SafetyFindings  []safety.Finding
}

// SearchRequest is everything search_memory accepts.
type SearchRequest struct {
	ProjectID             string
	Query                 string
	Layer                 *types.Layer
	Category              *types.Category
	AsOf                  *time.Time
	RangeStart            *time.Time
	RangeEnd              *time.Time
	IncludeExpired        bool
	IncludeIdentitySchema bool
	Limit                 int
}

// SearchResultItem is one ranked result from search_memory.
type SearchResultItem struct {
	ID           string
	Content      string
	Layer        types.Layer
	Category     types.Category
	Confidence   float64
	CreatedAt    time.Time
	ValidAt      *time.Time
	ExpiresAt    *time.Time
	Score        float64
	SessionID    string
	RelatedFiles []string
}
