package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
)

func TestInspectDisabledPassesThrough(t *testing.T) {
	f := New(Config{Enabled: false})
	result, err := f.Inspect("my email is bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "my email is bob@example.com", result.SanitizedContent)
	assert.Nil(t, result.Findings)
}

func TestInspectCleanContentWarnsWithNoFindings(t *testing.T) {
	f := New(DefaultConfig())
	result, err := f.Inspect("the sky is blue today")
	require.NoError(t, err)
	assert.Equal(t, ActionWarn, result.Action)
	assert.Empty(t, result.Findings)
}

func TestInspectEmailDefaultsToWarnAndLeavesContentUntouched(t *testing.T) {
	f := New(DefaultConfig())
	result, err := f.Inspect("reach me at bob@example.com please")
	require.NoError(t, err)
	assert.Equal(t, ActionWarn, result.Action)
	assert.Equal(t, "reach me at bob@example.com please", result.SanitizedContent)
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, KindEmail, result.Findings[0].Kind)
}

func TestInspectRedactRuleMasksOnlyThatFinding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = map[Kind]Action{KindEmail: ActionRedact}
	f := New(cfg)
	result, err := f.Inspect("contact bob@example.com about the weather")
	require.NoError(t, err)
	assert.Equal(t, ActionRedact, result.Action)
	assert.NotContains(t, result.SanitizedContent, "bob@example.com")
	assert.Contains(t, result.SanitizedContent, "weather")
}

func TestInspectRedactRuleLeavesOtherFindingsUnmasked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = map[Kind]Action{KindEmail: ActionRedact, KindAPIKey: ActionWarn}
	f := New(cfg)
	result, err := f.Inspect("key sk-abcdefghijklmnopqrst and email bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, ActionRedact, result.Action)
	assert.Contains(t, result.SanitizedContent, "sk-abcdefghijklmnopqrst", "warn-level finding must stay unmasked")
	assert.NotContains(t, result.SanitizedContent, "bob@example.com")
}

func TestInspectBlockRuleFailsTheWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = map[Kind]Action{KindAPIKey: ActionBlock}
	f := New(cfg)
	result, err := f.Inspect("my key is sk-abcdefghijklmnopqrst")
	assert.ErrorIs(t, err, kernelerr.ErrPolicyViolation)
	assert.Equal(t, ActionBlock, result.Action)
}

func TestInspectMaxLengthAlwaysBlocksRegardlessOfConfiguredRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChars = 5
	cfg.Rules = map[Kind]Action{KindMaxLength: ActionWarn} // must be ignored
	f := New(cfg)
	long := strings.Repeat("a", 20)
	result, err := f.Inspect(long)
	assert.ErrorIs(t, err, kernelerr.ErrPolicyViolation)
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, KindMaxLength, result.Findings[0].Kind)
	assert.Equal(t, ActionBlock, result.Action)
}

func TestInspectSensitiveWordDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Words = []string{"classified"}
	cfg.Rules = map[Kind]Action{KindSensitiveWord: ActionRedact}
	f := New(cfg)
	result, err := f.Inspect("this document is classified material")
	require.NoError(t, err)
	assert.NotContains(t, result.SanitizedContent, "classified")
}
