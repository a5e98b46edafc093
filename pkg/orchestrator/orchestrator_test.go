package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/agent"
	"veracity/pkg/config"
	"veracity/pkg/faults"
	"veracity/pkg/persistence"
)

// scriptedExecutor returns canned results per task kind. failVerifyClaims
// selects claim texts whose verification calls fail.
type scriptedExecutor struct {
	mu               sync.Mutex
	claims           []agent.ClaimItem
	failProcessing   bool
	failExtraction   bool
	failReview       bool
	failVerifyClaims map[string]bool
	approve          bool
	executed         []agent.TaskKind
}

func (s *scriptedExecutor) Execute(_ context.Context, task agent.Task) (*agent.Result, error) {
	s.mu.Lock()
	s.executed = append(s.executed, task.Kind)
	s.mu.Unlock()

	switch task.Kind {
	case agent.KindProcessDocument:
		if s.failProcessing {
			return nil, faults.New(faults.ErrorTypeAgentExecution, "capability endpoint unreachable")
		}
		return &agent.Result{
			Kind: task.Kind,
			Document: &agent.DocumentSummary{
				Title:           "Doc",
				Summary:         "A document about things.",
				Topics:          []string{"things"},
				Authors:         []string{"A. Author"},
				PublicationDate: "2024-01-15",
			},
		}, nil
	case agent.KindExtractClaims:
		if s.failExtraction {
			return nil, faults.New(faults.ErrorTypeMalformedResult, "result does not match claim list shape")
		}
		return &agent.Result{Kind: task.Kind, Claims: &agent.ClaimList{Claims: s.claims}}, nil
	case agent.KindVerifyClaim:
		var payload struct {
			Claim string `json:"claim"`
		}
		if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
			return nil, faults.WithCause(faults.ErrorTypeMalformedResult, err, "bad payload")
		}
		if s.failVerifyClaims[payload.Claim] {
			return nil, faults.New(faults.ErrorTypeAgentExecution, "verification endpoint timed out")
		}
		return &agent.Result{
			Kind: task.Kind,
			Verification: &agent.VerificationVerdict{
				Status:            agent.VerificationVerified,
				Confidence:        0.9,
				SupportingSources: []string{"doi:10.1/ok"},
			},
		}, nil
	case agent.KindWriteReport:
		return &agent.Result{
			Kind:   task.Kind,
			Report: &agent.ReportText{Content: "# Findings\nAll good.", Quality: "high"},
		}, nil
	case agent.KindReviewReport:
		if s.failReview {
			return nil, faults.New(faults.ErrorTypeAgentExecution, "review endpoint unreachable")
		}
		return &agent.Result{
			Kind:   task.Kind,
			Review: &agent.ReviewVerdict{Approved: s.approve, Rationale: "checked"},
		}, nil
	default:
		return nil, faults.Newf(faults.ErrorTypeMalformedResult, "unexpected kind %s", task.Kind)
	}
}

func testRoleConfig() *config.Config {
	agents := map[string]config.AgentSpec{}
	for name, role := range map[string]string{
		"processor": config.RoleDocumentProcessor,
		"extractor": config.RoleClaimExtractor,
		"verifier":  config.RoleVerificationSpecialist,
		"writer":    config.RoleReportWriter,
		"reviewer":  config.RoleQualityReviewer,
	} {
		agents[name] = config.AgentSpec{Name: name, Model: "anthropic/claude-sonnet-4-0", Role: role}
	}
	return &config.Config{Agents: agents, Tools: map[string]config.ToolSpec{}}
}

func newTestOrchestrator(t *testing.T, exec TaskExecutor) (*Orchestrator, *persistence.Store) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewStore(db)
	return New(testRoleConfig(), store, exec, WithVerificationFanOut(2)), store
}

func nClaims(n int) []agent.ClaimItem {
	claims := make([]agent.ClaimItem, n)
	for i := range claims {
		claims[i] = agent.ClaimItem{
			Text:       fmt.Sprintf("claim %d", i+1),
			Type:       agent.ClaimTypeQuantitative,
			Confidence: 0.8,
		}
	}
	return claims
}

func submitAndRun(t *testing.T, o *Orchestrator, store *persistence.Store) *persistence.Analysis {
	t.Helper()
	ctx := context.Background()

	doc := &persistence.Document{
		Filename:    "paper.txt",
		ContentHash: "cafebabe0042",
		Content:     "the document body",
		SizeBytes:   17,
	}
	require.NoError(t, store.InsertDocument(ctx, doc))
	analysis := &persistence.Analysis{DocumentID: doc.ID}
	require.NoError(t, store.InsertAnalysis(ctx, analysis))

	_ = o.Run(ctx, analysis.ID)

	got, err := store.GetAnalysis(ctx, analysis.ID)
	require.NoError(t, err)
	return got
}

func TestRunAllVerificationsSucceed(t *testing.T) {
	exec := &scriptedExecutor{claims: nClaims(3), approve: true}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusCompleted, analysis.Status)
	assert.Empty(t, analysis.Errors)

	claims, err := store.ListClaims(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 3)

	verifications, err := store.ListVerifications(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Len(t, verifications, 3)

	report, err := store.GetReport(ctx, analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Approved)
	assert.True(t, *report.Approved)
}

func TestRunPersistsExtractedMetadata(t *testing.T) {
	exec := &scriptedExecutor{claims: nClaims(1), approve: true}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, "A document about things.", analysis.Summary)
	assert.Equal(t, []string{"things"}, analysis.Topics)

	doc, err := store.GetDocument(ctx, analysis.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Doc", doc.Title)
	assert.Equal(t, []string{"A. Author"}, doc.Authors)
	assert.Equal(t, "2024-01-15", doc.PublicationDate)
}

func TestRunProcessingFailure(t *testing.T) {
	exec := &scriptedExecutor{failProcessing: true}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusFailed, analysis.Status)
	assert.Equal(t, persistence.StatusProcessing, analysis.FailedPhase)
	require.Len(t, analysis.Errors, 1)

	claims, err := store.ListClaims(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestRunPartialVerificationFailure(t *testing.T) {
	exec := &scriptedExecutor{
		claims:           nClaims(4),
		failVerifyClaims: map[string]bool{"claim 3": true},
		approve:          true,
	}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusCompleted, analysis.Status, "per-claim failures are non-fatal")

	claims, err := store.ListClaims(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 4)

	verifications, err := store.ListVerifications(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Len(t, verifications, 3)

	require.Len(t, analysis.Errors, 1)
	assert.Equal(t, persistence.StatusVerification, analysis.Errors[0].Phase)
	assert.NotZero(t, analysis.Errors[0].ClaimID)

	_, err = store.GetReport(ctx, analysis.ID)
	require.NoError(t, err, "report still generated")

	status, err := o.Status(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Len(t, status.UnverifiedClaimIDs, 1, "claims lacking verification are flagged")
}

func TestRunEmptyClaimList(t *testing.T) {
	exec := &scriptedExecutor{claims: nil, approve: false}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusCompleted, analysis.Status, "empty claim list is not an error")

	verifications, err := store.ListVerifications(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Empty(t, verifications)

	report, err := store.GetReport(ctx, analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Approved)
	assert.False(t, *report.Approved, "rejection still completes the analysis")
}

func TestRunRejectedReviewCompletes(t *testing.T) {
	exec := &scriptedExecutor{claims: nClaims(1), approve: false}
	o, store := newTestOrchestrator(t, exec)

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusCompleted, analysis.Status)

	report, err := store.GetReport(context.Background(), analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Approved)
	assert.False(t, *report.Approved)
}

func TestRunExtractionFailure(t *testing.T) {
	exec := &scriptedExecutor{failExtraction: true}
	o, store := newTestOrchestrator(t, exec)

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusFailed, analysis.Status)
	assert.Equal(t, persistence.StatusClaimExtraction, analysis.FailedPhase)
}

func TestRunReviewFailure(t *testing.T) {
	exec := &scriptedExecutor{claims: nClaims(1), failReview: true}
	o, store := newTestOrchestrator(t, exec)

	analysis := submitAndRun(t, o, store)
	assert.Equal(t, persistence.StatusFailed, analysis.Status)
	assert.Equal(t, persistence.StatusQualityReview, analysis.FailedPhase)
}

func TestSubmitSchedulesDetachedRun(t *testing.T) {
	exec := &scriptedExecutor{claims: nClaims(2), approve: true}
	o, store := newTestOrchestrator(t, exec)
	ctx := context.Background()

	analysis, err := o.Submit(ctx, "doc.txt", "text/plain", []byte("body"))
	require.NoError(t, err)
	require.NotZero(t, analysis.ID)
	o.Wait()

	got, err := store.GetAnalysis(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusCompleted, got.Status)
}

func TestSubmitReusesDocumentByFingerprint(t *testing.T) {
	exec := &scriptedExecutor{approve: true}
	o, _ := newTestOrchestrator(t, exec)
	ctx := context.Background()

	first, err := o.Submit(ctx, "a.txt", "text/plain", []byte("identical body"))
	require.NoError(t, err)
	second, err := o.Submit(ctx, "b.txt", "text/plain", []byte("identical body"))
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, first.DocumentID, second.DocumentID, "same fingerprint reuses the document")
	assert.NotEqual(t, first.ID, second.ID, "each submission gets a fresh analysis")
}

func TestStateMachineTransitions(t *testing.T) {
	assert.True(t, IsValidTransition(persistence.StatusQueued, persistence.StatusProcessing))
	assert.True(t, IsValidTransition(persistence.StatusVerification, persistence.StatusFailed))
	assert.False(t, IsValidTransition(persistence.StatusVerification, persistence.StatusProcessing), "no regression")
	assert.False(t, IsValidTransition(persistence.StatusQueued, persistence.StatusVerification), "no skipping")
	assert.False(t, IsValidTransition(persistence.StatusFailed, persistence.StatusProcessing), "FAILED is absorbing")
	assert.False(t, IsValidTransition(persistence.StatusCompleted, persistence.StatusFailed), "COMPLETED is terminal")
	assert.True(t, IsTerminal(persistence.StatusCompleted))
	assert.True(t, IsTerminal(persistence.StatusFailed))
	assert.False(t, IsTerminal(persistence.StatusVerification))
}
