package orchestrator

import (
	"veracity/pkg/faults"
	"veracity/pkg/persistence"
)

// analysisState is the in-memory working state of one in-flight analysis.
// It is exclusively owned by the single run driving the analysis; only the
// verification fan-out touches it concurrently, guarded by the run's own
// result channel, so no locking is needed here.
type analysisState struct {
	analysis *persistence.Analysis
	document *persistence.Document
	claims   []*persistence.Claim
	report   *persistence.Report
}

// addError appends an entry to the per-analysis error log. claimID is zero
// for phase-level failures.
func (s *analysisState) addError(phase string, claimID int64, err error) {
	s.analysis.Errors = append(s.analysis.Errors, persistence.ErrorEntry{
		Phase:   phase,
		ClaimID: claimID,
		Message: err.Error(),
	})
}

// transition moves the analysis to the next status after validating the
// state machine. An invalid transition is a programming defect and surfaces
// as an error rather than silently regressing status.
func (s *analysisState) transition(to string) error {
	from := s.analysis.Status
	if !IsValidTransition(from, to) {
		return faults.Newf(faults.ErrorTypeAgentExecution,
			"invalid status transition %s -> %s for analysis %d", from, to, s.analysis.ID)
	}
	s.analysis.Status = to
	return nil
}
