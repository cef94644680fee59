// Package budget is the C6 Context Budget Manager: enforces per-layer
// token budgets on query results, truncating whole records (never
// partial ones) to keep returned context under a declared cap.
package budget

import (
	"sort"

	"github.com/scrypster/memoryanchor/pkg/types"
)

// Layer budgets in tokens, defaults per spec.
const (
	DefaultL0 = 500
	DefaultL1 = 200
	DefaultL2 = 500
	DefaultL3 = 2000
	DefaultL4 = 300

	DefaultTotal = 4000

	// DefaultCharsPerToken is the fixed-ratio token estimator's divisor.
	DefaultCharsPerToken = 4.0
)

// Limits is a budget configuration, overridable via MA_BUDGET_* env
// vars at the config layer.
type Limits struct {
	L0, L1, L2, L3, L4 int
	Total              int
	CharsPerToken      float64
}

// DefaultLimits returns the spec's default per-layer and total budgets.
func DefaultLimits() Limits {
	return Limits{
		L0: DefaultL0, L1: DefaultL1, L2: DefaultL2, L3: DefaultL3, L4: DefaultL4,
		Total: DefaultTotal, CharsPerToken: DefaultCharsPerToken,
	}
}

// Scored is anything the manager can rank and truncate: a memory plus
// its search score.
type Scored struct {
	Memory types.Memory
	Score  float64
}

// EstimateTokens is the deterministic, monotonic fixed-ratio estimator:
// ceil(len(content) / charsPerToken).
func EstimateTokens(content string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	n := float64(len(content)) / charsPerToken
	tokens := int(n)
	if n > float64(tokens) {
		tokens++
	}
	return tokens
}

func limitFor(layer types.Layer, l Limits) int {
	switch layer {
	case types.LayerIdentitySchema:
		return l.L0
	case types.LayerActiveContext:
		return l.L1
	case types.LayerEventLog:
		return l.L2
	case types.LayerVerifiedFact:
		return l.L3
	case types.LayerOperationalKnowledge:
		return l.L4
	}
	return 0
}

// packOrder is the fixed layer-packing order: L0 first, then L3, L2,
// L4, L1, per spec §4.5.
var packOrder = []types.Layer{
	types.LayerIdentitySchema,
	types.LayerVerifiedFact,
	types.LayerEventLog,
	types.LayerOperationalKnowledge,
	types.LayerActiveContext,
}

// Result is the outcome of a truncation pass.
type Result struct {
	Kept    []Scored
	Dropped int
}

// Truncate groups items by layer, sorts each layer's items by
// (score desc, created_at desc), keeps whole records in that order,
// skipping (not stopping at) any record that would exceed the layer
// budget or the overall total, and returns the kept set plus a dropped
// count for observability.
func Truncate(items []Scored, limits Limits) Result {
	byLayer := make(map[types.Layer][]Scored)
	for _, it := range items {
		byLayer[it.Memory.Layer] = append(byLayer[it.Memory.Layer], it)
	}
	for layer := range byLayer {
		group := byLayer[layer]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Score != group[j].Score {
				return group[i].Score > group[j].Score
			}
			return group[i].Memory.CreatedAt.After(group[j].Memory.CreatedAt)
		})
		byLayer[layer] = group
	}

	var kept []Scored
	dropped := 0
	totalUsed := 0

	for _, layer := range packOrder {
		group := byLayer[layer]
		layerBudget := limitFor(layer, limits)
		layerUsed := 0
		for _, it := range group {
			tokens := EstimateTokens(it.Memory.Content, limits.CharsPerToken)
			if layerUsed+tokens > layerBudget || totalUsed+tokens > limits.Total {
				dropped++
				continue
			}
			kept = append(kept, it)
			layerUsed += tokens
			totalUsed += tokens
		}
	}

	return Result{Kept: kept, Dropped: dropped}
}
