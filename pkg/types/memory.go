// Package types defines the core data structures shared across the memory
// kernel: the Memory record, its pending (unapproved) counterpart, and the
// small closed enumerations used to classify them.
package types

import "time"

// Layer is the tagged sum type over the five memory layers. Replacing the
// loose layer strings the system originally passed around, Layer makes an
// unrecognized layer a compile-time rather than a runtime concern once
// parsed via ParseLayer.
type Layer string

const (
	LayerIdentitySchema        Layer = "identity_schema"
	LayerActiveContext         Layer = "active_context"
	LayerEventLog              Layer = "event_log"
	LayerVerifiedFact          Layer = "verified_fact"
	LayerOperationalKnowledge  Layer = "operational_knowledge"
)

// legacyLayerAliases maps the names the system accepted before layers were
// renamed. Both add_memory callers and stored records may still use them.
var legacyLayerAliases = map[string]Layer{
	"constitution": LayerIdentitySchema,
	"fact":         LayerVerifiedFact,
	"session":      LayerEventLog,
}

// ParseLayer normalizes a raw layer string, accepting both current names
// and legacy aliases. An unrecognized value returns ok=false.
func ParseLayer(raw string) (Layer, bool) {
	switch Layer(raw) {
	case LayerIdentitySchema, LayerActiveContext, LayerEventLog, LayerVerifiedFact, LayerOperationalKnowledge:
		return Layer(raw), true
	}
	if l, ok := legacyLayerAliases[raw]; ok {
		return l, true
	}
	return "", false
}

// Category is the small closed set of memory categories.
type Category string

const (
	CategoryPerson  Category = "person"
	CategoryPlace   Category = "place"
	CategoryEvent   Category = "event"
	CategoryItem    Category = "item"
	CategoryRoutine Category = "routine"
)

// ValidCategory reports whether c is one of the recognized categories.
// The empty category is valid (category is optional).
func ValidCategory(c Category) bool {
	switch c {
	case "", CategoryPerson, CategoryPlace, CategoryEvent, CategoryItem, CategoryRoutine:
		return true
	}
	return false
}

// MaxContentLength is the hard cap on content length after safety filtering
// (spec.md §3.1).
const MaxContentLength = 2000

// Memory is the primary record stored by the kernel. Vectors are held by
// the vector store, not duplicated here; a Memory carries only the payload
// fields the metadata store and search results need.
type Memory struct {
	ID           string
	Content      string
	Layer        Layer
	Category     Category
	Confidence   float64
	CreatedAt    time.Time
	ValidAt      *time.Time
	ExpiresAt    *time.Time
	CreatedBy    string
	SessionID    string
	RelatedFiles []string
	IsActive     bool
}

// PendingStatus is the state of a pending memory awaiting confidence-based
// or governance-based approval.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusApproved   PendingStatus = "approved"
	PendingStatusRejected   PendingStatus = "rejected"
	PendingStatusExpired    PendingStatus = "expired"
)

// ChangeType describes what a pending memory or identity-schema proposal
// does to its target once applied.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Approval is one approver's sign-off on a pending memory or identity
// change.
type Approval struct {
	Approver  string
	Comment   string
	Timestamp time.Time
}

// PendingMemory is a staged record awaiting approval before it becomes a
// Memory in the active stores (spec.md §3.1).
type PendingMemory struct {
	Memory
	ProjectID  string
	Status     PendingStatus
	Proposer   string
	Reason     string
	TargetID   string
	ChangeType ChangeType
	Approvals  []Approval
	UpdatedAt  time.Time
}

// DistinctApprovers reports whether approver has not already approved p.
func (p *PendingMemory) DistinctApprovers(approver string) bool {
	for _, a := range p.Approvals {
		if a.Approver == approver {
			return false
		}
	}
	return true
}
