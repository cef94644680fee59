package budget

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/pkg/types"
)

func TestEstimateTokensRoundsUp(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens("abc", 4))
	assert.Equal(t, 2, EstimateTokens("abcde", 4))
	assert.Equal(t, 0, EstimateTokens("", 4))
}

func TestEstimateTokensDefaultsBadRatio(t *testing.T) {
	assert.Equal(t, EstimateTokens("abcdefgh", 0), EstimateTokens("abcdefgh", DefaultCharsPerToken))
}

func scored(id string, layer types.Layer, score float64, chars int, createdAt time.Time) Scored {
	return Scored{
		Memory: types.Memory{ID: id, Layer: layer, Content: strings.Repeat("x", chars), CreatedAt: createdAt},
		Score:  score,
	}
}

func TestTruncateKeepsHighestScoreWithinLayerBudget(t *testing.T) {
	now := time.Now()
	items := []Scored{
		scored("a", types.LayerActiveContext, 0.9, 40, now),
		scored("b", types.LayerActiveContext, 0.5, 40, now),
	}
	limits := Limits{L1: 10, Total: 1000, CharsPerToken: 4}
	result := Truncate(items, limits)
	require.Len(t, result.Kept, 1)
	assert.Equal(t, "a", result.Kept[0].Memory.ID)
	assert.Equal(t, 1, result.Dropped)
}

func TestTruncateSkipsOverBudgetRecordRatherThanStopping(t *testing.T) {
	now := time.Now()
	items := []Scored{
		scored("big", types.LayerActiveContext, 0.9, 4000, now),
		scored("small", types.LayerActiveContext, 0.5, 8, now),
	}
	limits := Limits{L1: 5, Total: 1000, CharsPerToken: 4}
	result := Truncate(items, limits)
	ids := make([]string, 0, len(result.Kept))
	for _, k := range result.Kept {
		ids = append(ids, k.Memory.ID)
	}
	assert.Contains(t, ids, "small")
	assert.NotContains(t, ids, "big")
}

func TestTruncatePacksL0Before(t *testing.T) {
	now := time.Now()
	items := []Scored{
		scored("fact", types.LayerVerifiedFact, 0.9, 8, now),
		scored("identity", types.LayerIdentitySchema, 0.9, 8, now),
	}
	limits := DefaultLimits()
	result := Truncate(items, limits)
	require.Len(t, result.Kept, 2)
	assert.Equal(t, "identity", result.Kept[0].Memory.ID)
}

func TestTruncateTiesBrokenByNewerCreatedAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	items := []Scored{
		scored("older", types.LayerActiveContext, 0.5, 8, older),
		scored("newer", types.LayerActiveContext, 0.5, 8, newer),
	}
	limits := Limits{L1: 2, Total: 1000, CharsPerToken: 4}
	result := Truncate(items, limits)
	require.Len(t, result.Kept, 1)
	assert.Equal(t, "newer", result.Kept[0].Memory.ID)
}
