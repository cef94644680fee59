package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memoryanchor/pkg/types"
)

func TestDetectNoCandidatesIsNone(t *testing.T) {
	newMem := types.Memory{ID: "new", Category: types.CategoryPerson, Confidence: 0.9}
	w := Detect(newMem, []float32{1, 0, 0}, nil)
	assert.False(t, w.HasConflict)
	assert.Equal(t, KindNone, w.Kind)
}

func TestDetectTemporalOverlap(t *testing.T) {
	now := time.Now().UTC()
	newMem := types.Memory{ID: "new", Category: types.CategoryPerson, Confidence: 0.9, ValidAt: &now}
	candidateValidAt := now.Add(2 * 24 * time.Hour)
	candidates := []Candidate{
		{
			Memory: types.Memory{ID: "old", Category: types.CategoryPerson, Confidence: 0.9, IsActive: true, ValidAt: &candidateValidAt},
			Vector: []float32{1, 0, 0},
		},
	}
	w := Detect(newMem, []float32{1, 0, 0}, candidates)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindTemporal, w.Kind)
	assert.Equal(t, []string{"old"}, w.RelatedIDs)
}

func TestDetectTemporalOverlapSkipsDifferentCategory(t *testing.T) {
	now := time.Now().UTC()
	newMem := types.Memory{ID: "new", Category: types.CategoryPerson, Confidence: 0.9, ValidAt: &now}
	candidates := []Candidate{
		{
			Memory: types.Memory{ID: "old", Category: types.CategoryPlace, Confidence: 0.9, IsActive: true, ValidAt: &now},
			Vector: []float32{1, 0, 0},
		},
	}
	w := Detect(newMem, []float32{1, 0, 0}, candidates)
	assert.False(t, w.HasConflict)
}

func TestDetectSourceDivergence(t *testing.T) {
	newMem := types.Memory{ID: "new", Confidence: 0.8, CreatedBy: "session-a"}
	candidates := []Candidate{
		{
			Memory: types.Memory{ID: "old", Confidence: 0.8, IsActive: true, CreatedBy: "session-b"},
			Vector: []float32{1, 0, 0},
		},
	}
	w := Detect(newMem, []float32{1, 0, 0}, candidates)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindSource, w.Kind)
}

func TestDetectConfidenceDelta(t *testing.T) {
	newMem := types.Memory{ID: "new", Confidence: 0.95, CreatedBy: "same"}
	candidates := []Candidate{
		{
			Memory: types.Memory{ID: "old", Confidence: 0.4, IsActive: true, CreatedBy: "same"},
			Vector: []float32{1, 0, 0},
		},
	}
	w := Detect(newMem, []float32{1, 0, 0}, candidates)
	assert.True(t, w.HasConflict)
	assert.Equal(t, KindConfidence, w.Kind)
}

func TestDetectIgnoresInactiveCandidates(t *testing.T) {
	now := time.Now().UTC()
	newMem := types.Memory{ID: "new", Category: types.CategoryPerson, Confidence: 0.9, ValidAt: &now, CreatedBy: "a"}
	candidates := []Candidate{
		{
			Memory: types.Memory{ID: "old", Category: types.CategoryPerson, Confidence: 0.1, IsActive: false, ValidAt: &now, CreatedBy: "b"},
			Vector: []float32{1, 0, 0},
		},
	}
	w := Detect(newMem, []float32{1, 0, 0}, candidates)
	assert.False(t, w.HasConflict)
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}))
}
