// Package conflict is the C7 Conflict Detector: a rule-based, CPU-bound
// detector of temporal/source/confidence conflicts run on every write
// that reaches the Vector Store. Structured the way the corpus's own
// structural-contradiction detector is structured — a small struct
// holding read access to prior memories, one exported entry point, and
// one private method per rule — generalized here from graph-relationship
// contradictions to the three similarity-based rules the spec names.
package conflict

import (
	"math"

	"github.com/scrypster/memoryanchor/pkg/types"
)

// Kind identifies which rule produced a conflict, or none.
type Kind string

const (
	KindNone       Kind = "none"
	KindTemporal   Kind = "temporal"
	KindSource     Kind = "source"
	KindConfidence Kind = "confidence"
)

// Thresholds are the literal similarity/delta cutoffs the spec fixes;
// tuning is explicitly deferred, so these are constants, not config.
const (
	TemporalSimilarity   = 0.85
	SourceSimilarity     = 0.9
	ConfidenceSimilarity = 0.9
	ConfidenceDelta      = 0.3
	TemporalOverlapDays  = 7
)

// Warning is the advisory, non-blocking result returned alongside a
// successful write.
type Warning struct {
	HasConflict bool
	Kind        Kind
	RelatedIDs  []string
	Hint        string
}

// Candidate is a prior active memory considered against the new one,
// carrying the fields the three rules read plus its embedding vector.
type Candidate struct {
	types.Memory
	Vector []float32
}

// Detect runs all three rules against candidates for a new memory being
// written with the given vector. Detection never blocks the write; the
// caller always proceeds and merely surfaces the result.
func Detect(newMem types.Memory, newVector []float32, candidates []Candidate) Warning {
	var related []string

	if ids := temporalOverlap(newMem, newVector, candidates); len(ids) > 0 {
		return Warning{HasConflict: true, Kind: KindTemporal, RelatedIDs: ids, Hint: "an active memory in the same category overlaps in validity window and is highly similar"}
	}
	if ids := sourceDivergence(newMem, newVector, candidates); len(ids) > 0 {
		related = ids
		return Warning{HasConflict: true, Kind: KindSource, RelatedIDs: related, Hint: "a highly similar memory was recorded by a different source"}
	}
	if ids := confidenceDelta(newMem, newVector, candidates); len(ids) > 0 {
		related = ids
		return Warning{HasConflict: true, Kind: KindConfidence, RelatedIDs: related, Hint: "a highly similar memory carries a substantially different confidence"}
	}
	return Warning{HasConflict: false, Kind: KindNone}
}

func temporalOverlap(newMem types.Memory, newVector []float32, candidates []Candidate) []string {
	if newMem.ValidAt == nil {
		return nil
	}
	var ids []string
	for _, c := range candidates {
		if !c.IsActive || c.Category != newMem.Category || c.ValidAt == nil {
			continue
		}
		days := math.Abs(c.ValidAt.Sub(*newMem.ValidAt).Hours() / 24)
		if days > TemporalOverlapDays {
			continue
		}
		if cosineSimilarity(newVector, c.Vector) >= TemporalSimilarity {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func sourceDivergence(newMem types.Memory, newVector []float32, candidates []Candidate) []string {
	var ids []string
	for _, c := range candidates {
		if !c.IsActive || c.CreatedBy == newMem.CreatedBy {
			continue
		}
		if cosineSimilarity(newVector, c.Vector) >= SourceSimilarity {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func confidenceDelta(newMem types.Memory, newVector []float32, candidates []Candidate) []string {
	var ids []string
	for _, c := range candidates {
		if !c.IsActive {
			continue
		}
		if math.Abs(c.Confidence-newMem.Confidence) <= ConfidenceDelta {
			continue
		}
		if cosineSimilarity(newVector, c.Vector) >= ConfidenceSimilarity {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
