// Package llmimpl holds shared helpers for the provider client implementations.
package llmimpl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"veracity/pkg/faults"
)

// Classify maps a provider SDK error onto the pipeline taxonomy. Rate limits
// and overload map to ResourceUnavailable so the caller's backoff applies;
// credential failures map to Config since no retry can fix them; everything
// else is an execution failure for the owning phase to judge.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return faults.WithCause(faults.ErrorTypeAgentExecution, err,
			fmt.Sprintf("%s request timed out", provider))
	}
	if errors.Is(err, context.Canceled) {
		return faults.WithCause(faults.ErrorTypeAgentExecution, err,
			fmt.Sprintf("%s request canceled", provider))
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "overloaded"):
		return faults.WithCause(faults.ErrorTypeResourceUnavailable, err,
			fmt.Sprintf("%s rate limited", provider))
	case strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "api key"):
		return faults.WithCause(faults.ErrorTypeConfig, err,
			fmt.Sprintf("%s rejected credentials", provider))
	default:
		return faults.WithCause(faults.ErrorTypeAgentExecution, err,
			fmt.Sprintf("%s call failed", provider))
	}
}
