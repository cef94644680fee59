// Package temporal is the C8 Bi-temporal Query Engine: it expresses
// time-aware predicates over valid_at/expires_at and translates them
// into the vectorstore payload filter DNF.
package temporal

import (
	"time"

	"github.com/scrypster/memoryanchor/internal/vectorstore"
)

// Query is the set of time parameters a caller of search_memory may
// supply. The zero value means "caller omitted all time parameters".
type Query struct {
	AsOf           *time.Time
	RangeStart     *time.Time
	RangeEnd       *time.Time
	IncludeExpired bool
}

func nonNil(t *time.Time, fallback time.Time) *time.Time {
	if t != nil {
		return t
	}
	return &fallback
}

// orGroup is one payload field's disjunction: either the field compares
// against bound with op, or the field is null.
type orGroup struct {
	key       string
	op        vectorstore.Op
	bound     float64
	allowNull bool // whether the IS NULL branch participates at all
}

// asOf implements: (valid_at <= t OR valid_at IS NULL) AND
// (expires_at IS NULL OR expires_at > t), per §4.7.
func asOf(t time.Time, includeExpired bool) []orGroup {
	groups := []orGroup{
		{key: vectorstore.PayloadValidAt, op: vectorstore.OpLte, bound: epochSeconds(t), allowNull: true},
	}
	if !includeExpired {
		groups = append(groups, orGroup{key: vectorstore.PayloadExpiresAt, op: vectorstore.OpGt, bound: epochSeconds(t), allowNull: true})
	}
	return groups
}

func inRange(start, end time.Time, includeExpired bool) []orGroup {
	groups := []orGroup{
		{key: vectorstore.PayloadValidAt, op: vectorstore.OpLte, bound: epochSeconds(end), allowNull: true},
	}
	if !includeExpired {
		groups = append(groups, orGroup{key: vectorstore.PayloadExpiresAt, op: vectorstore.OpGt, bound: epochSeconds(start), allowNull: true})
	}
	return groups
}

func epochSeconds(t time.Time) float64 { return float64(t.Unix()) }

// Compose builds the full payload Filter for a search: the bi-temporal
// predicates ANDed with layer/category/is_active, expanded into full
// DNF across every OR-group (each of valid_at and expires_at
// independently may be null or bound-compared).
func Compose(q Query, now time.Time, extra []vectorstore.Predicate) vectorstore.Filter {
	groups := q.timeGroups(now)

	clauses := []vectorstore.Clause{{}}
	for _, g := range groups {
		boundPred := vectorstore.Predicate{Key: g.key, Op: g.op, Value: g.bound}
		nullPred := vectorstore.Predicate{Key: g.key, Op: vectorstore.OpIsNull, Value: true}

		var expanded []vectorstore.Clause
		for _, c := range clauses {
			withBound := append(append(vectorstore.Clause{}, c...), boundPred)
			expanded = append(expanded, withBound)
			if g.allowNull {
				withNull := append(append(vectorstore.Clause{}, c...), nullPred)
				expanded = append(expanded, withNull)
			}
		}
		clauses = expanded
	}

	for i := range clauses {
		clauses[i] = append(clauses[i], extra...)
	}
	return vectorstore.Filter(clauses)
}

func (q Query) timeGroups(now time.Time) []orGroup {
	switch {
	case q.RangeStart != nil || q.RangeEnd != nil:
		return inRange(*nonNil(q.RangeStart, now), *nonNil(q.RangeEnd, now), q.IncludeExpired)
	case q.AsOf != nil:
		return asOf(*q.AsOf, q.IncludeExpired)
	default:
		return asOf(now, q.IncludeExpired)
	}
}

// DefaultActiveOnly returns the extra predicates applied whenever the
// caller does not explicitly relax is_active (every search_memory call
// per §4.10.search step 2).
func DefaultActiveOnly() []vectorstore.Predicate {
	return []vectorstore.Predicate{{Key: vectorstore.PayloadIsActive, Op: vectorstore.OpEq, Value: true}}
}
