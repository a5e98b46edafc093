package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	tc, err := NewTokenCounter("anthropic/claude-sonnet-4-0")
	require.NoError(t, err)

	assert.Zero(t, tc.CountTokens(""))
	assert.Positive(t, tc.CountTokens("the quick brown fox"))
}

func TestTruncateToTokens(t *testing.T) {
	tc, err := NewTokenCounter("anthropic/claude-sonnet-4-0")
	require.NoError(t, err)

	short := "a short payload"
	assert.Equal(t, short, tc.TruncateToTokens(short, 1000), "under budget passes through unchanged")

	long := strings.Repeat("document analysis pipeline ", 500)
	truncated := tc.TruncateToTokens(long, 50)
	assert.Less(t, len(truncated), len(long))
	assert.Contains(t, truncated, "[truncated,")

	// The kept prefix itself stays within budget.
	prefix, _, found := strings.Cut(truncated, "\n...[truncated")
	require.True(t, found)
	assert.LessOrEqual(t, tc.CountTokens(prefix), 50)

	assert.Empty(t, tc.TruncateToTokens(long, 0))
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Positive(t, EstimateTokens("some words here"))
}

func TestContentFingerprint(t *testing.T) {
	a := ContentFingerprint([]byte("identical body"))
	b := ContentFingerprint([]byte("identical body"))
	c := ContentFingerprint([]byte("different body"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}

func TestGenerateRequestID(t *testing.T) {
	assert.Len(t, GenerateRequestID(), 36)
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
}
