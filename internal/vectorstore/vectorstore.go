// Package vectorstore defines the VectorStore contract (C2): named
// collections of (id, vector, payload) points searchable by cosine
// similarity with payload filters. Two backends implement it:
// chromemstore (local-file/embedded mode) and pgstore (server mode,
// circuit-broken).
package vectorstore

import (
	"context"
	"sort"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
)

// Point is a single (id, vector, payload) record.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Payload keys the core reads and writes. valid_at and expires_at must
// always be present (value may be nil) so is-null filters behave
// consistently across backends.
const (
	PayloadLayer        = "layer"
	PayloadCategory     = "category"
	PayloadConfidence   = "confidence"
	PayloadCreatedAt    = "created_at"
	PayloadValidAt      = "valid_at"
	PayloadExpiresAt    = "expires_at"
	PayloadIsActive     = "is_active"
	PayloadSessionID    = "session_id"
	PayloadRelatedFiles = "related_files"
	PayloadCreatedBy    = "created_by"
)

// Op is a predicate operator usable in a Filter clause.
type Op string

const (
	OpEq     Op = "eq"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpIsNull Op = "is_null"
)

// Predicate is a single payload comparison.
type Predicate struct {
	Key   string
	Op    Op
	Value any
}

// Clause is a conjunction (AND) of predicates.
type Clause []Predicate

// Filter is a disjunction of clauses (DNF): a point matches the filter
// if it matches any one clause, and a clause matches if all of its
// predicates match.
type Filter []Clause

// Match reports whether payload satisfies f. A nil or empty Filter
// matches everything.
func (f Filter) Match(payload map[string]any) bool {
	if len(f) == 0 {
		return true
	}
	for _, clause := range f {
		if clause.match(payload) {
			return true
		}
	}
	return false
}

func (c Clause) match(payload map[string]any) bool {
	for _, p := range c {
		if !p.match(payload) {
			return false
		}
	}
	return true
}

func (p Predicate) match(payload map[string]any) bool {
	v, present := payload[p.Key]
	if p.Op == OpIsNull {
		want, _ := p.Value.(bool)
		isNull := !present || v == nil
		return isNull == want
	}
	if !present || v == nil {
		return false
	}
	switch p.Op {
	case OpEq:
		return equalValue(v, p.Value)
	case OpLt, OpLte, OpGt, OpGte:
		return compareValue(v, p.Value, p.Op)
	}
	return false
}

func equalValue(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareValue(a, b any, op Op) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// SearchHit is one ranked result from Search.
type SearchHit struct {
	Point
	Score float64 // similarity, higher = closer
}

// ScrollPage is one page of Scroll results.
type ScrollPage struct {
	Points []Point
	Cursor string // empty when there are no more pages
}

// VectorStore is the C2 contract. Implementations must return
// kernelerr.ErrStorageUnavailable (wrapped) on connection failure rather
// than degrading silently.
type VectorStore interface {
	// EnsureCollection creates name if absent with the given dimension.
	// It fails with kernelerr.ErrDimensionMismatch if name already
	// exists with a different dimension.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes or replaces a point in collection name.
	Upsert(ctx context.Context, name string, p Point) error

	// BatchUpsert upserts points with at-least-once semantics. The
	// returned slice has one error per input point (nil on success),
	// in the same order, so partial failures are reported per-point.
	BatchUpsert(ctx context.Context, name string, points []Point) []error

	// Search returns the top-k points by cosine similarity matching
	// filter, ties broken by lexicographic id.
	Search(ctx context.Context, name string, query []float32, k int, filter Filter) ([]SearchHit, error)

	// Scroll enumerates all points matching filter, page_size at a
	// time. An empty cursor starts from the beginning.
	Scroll(ctx context.Context, name string, filter Filter, cursor string, pageSize int) (ScrollPage, error)

	// UpdatePayload partially overwrites the payload of point id.
	UpdatePayload(ctx context.Context, name, id string, partial map[string]any) error

	// Delete hard-deletes point id. Used only by tests.
	Delete(ctx context.Context, name, id string) error

	// Ready pings backend readiness; used by the Kernel to select and
	// health-check a configured backend at startup.
	Ready(ctx context.Context) error
}

// SortHitsDeterministic orders hits by score descending, id ascending,
// matching the §4.1 tie-break rule. Backends call this after collecting
// unordered candidates.
func SortHitsDeterministic(hits []SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// unavailable wraps err as a kernelerr.ErrStorageUnavailable.
func unavailable(context string, err error) error {
	return &storageErr{context: context, err: err}
}

type storageErr struct {
	context string
	err     error
}

func (e *storageErr) Error() string {
	if e.err == nil {
		return e.context + ": " + kernelerr.ErrStorageUnavailable.Error()
	}
	return e.context + ": " + kernelerr.ErrStorageUnavailable.Error() + ": " + e.err.Error()
}

func (e *storageErr) Unwrap() error { return kernelerr.ErrStorageUnavailable }

// Unavailable wraps err as a storage-unavailable error tagged with
// context, satisfying errors.Is(err, kernelerr.ErrStorageUnavailable).
func Unavailable(context string, err error) error {
	return unavailable(context, err)
}
