package llmimpl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/faults"
)

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify("anthropic", nil))
}

func TestClassifyRateLimit(t *testing.T) {
	for _, msg := range []string{
		"429 Too Many Requests",
		"rate limit exceeded",
		"quota exceeded for project",
		"model overloaded",
	} {
		err := Classify("openai", errors.New(msg))
		assert.True(t, faults.Is(err, faults.ErrorTypeResourceUnavailable), msg)
		assert.True(t, faults.IsRetryable(err), msg)
	}
}

func TestClassifyCredentials(t *testing.T) {
	for _, msg := range []string{
		"401 Unauthorized",
		"invalid api key provided",
		"403 forbidden",
	} {
		err := Classify("gemini", errors.New(msg))
		assert.True(t, faults.Is(err, faults.ErrorTypeConfig), msg)
		assert.False(t, faults.IsRetryable(err), msg)
	}
}

func TestClassifyTimeout(t *testing.T) {
	err := Classify("ollama", context.DeadlineExceeded)
	assert.True(t, faults.Is(err, faults.ErrorTypeAgentExecution))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyDefault(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Classify("anthropic", cause)
	require.True(t, faults.Is(err, faults.ErrorTypeAgentExecution))
	assert.ErrorIs(t, err, cause)
}
