// Package orchestrator drives an analysis through its ordered phases:
// parsing, claim extraction, verification, report generation, and quality
// review. Phase results are persisted before each transition so progress
// survives restarts and is queryable mid-flight.
package orchestrator

import "veracity/pkg/persistence"

// validTransitions defines the analysis state machine. Statuses advance in
// strict forward order with no skipping; FAILED is an absorbing terminal
// state reachable from any non-terminal status.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[string][]string{
	persistence.StatusQueued: {
		persistence.StatusProcessing,
		persistence.StatusFailed,
	},
	persistence.StatusProcessing: {
		persistence.StatusClaimExtraction,
		persistence.StatusFailed,
	},
	persistence.StatusClaimExtraction: {
		persistence.StatusVerification,
		persistence.StatusFailed,
	},
	persistence.StatusVerification: {
		persistence.StatusReportGeneration,
		persistence.StatusFailed,
	},
	persistence.StatusReportGeneration: {
		persistence.StatusQualityReview,
		persistence.StatusFailed,
	},
	persistence.StatusQualityReview: {
		persistence.StatusCompleted,
		persistence.StatusFailed,
	},
	persistence.StatusCompleted: {
		// Terminal state - no outgoing transitions
	},
	persistence.StatusFailed: {
		// Terminal state - never retried automatically
	},
}

// IsValidTransition checks whether a status transition is allowed.
func IsValidTransition(from, to string) bool {
	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, next := range allowed {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status string) bool {
	return len(validTransitions[status]) == 0
}
