package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortIDTruncatesLongID(t *testing.T) {
	c := &ChecklistItem{ID: "0123456789abcdef"}
	assert.Equal(t, "01234567", c.ShortID())
}

func TestShortIDLeavesShortIDUnchanged(t *testing.T) {
	c := &ChecklistItem{ID: "short"}
	assert.Equal(t, "short", c.ShortID())
}

func TestShortIDIsPrefixOfFullID(t *testing.T) {
	c := &ChecklistItem{ID: "fedcba9876543210"}
	assert.True(t, strings.HasPrefix(c.ID, c.ShortID()))
}
