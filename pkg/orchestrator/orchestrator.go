package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"veracity/pkg/agent"
	"veracity/pkg/config"
	"veracity/pkg/faults"
	"veracity/pkg/logx"
	"veracity/pkg/persistence"
	"veracity/pkg/utils"
)

// DefaultVerificationFanOut bounds concurrent per-claim verification.
const DefaultVerificationFanOut = 4

// TaskExecutor runs one agent task to a parsed result. Satisfied by
// agent.Executor; tests substitute stubs.
type TaskExecutor interface {
	Execute(ctx context.Context, task agent.Task) (*agent.Result, error)
}

// Orchestrator coordinates analyses through the five ordered phases. The
// submitting caller is never blocked: Submit schedules the run as a detached
// background task and returns as soon as the analysis record exists.
type Orchestrator struct {
	cfg      *config.Config
	store    *persistence.Store
	executor TaskExecutor
	metrics  *Metrics
	logger   *logx.Logger
	fanOut   int
	wg       sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVerificationFanOut overrides the bounded verification concurrency.
func WithVerificationFanOut(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fanOut = n
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator. All collaborators are injected explicitly;
// the orchestrator holds no global state.
func New(cfg *config.Config, store *persistence.Store, executor TaskExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		executor: executor,
		logger:   logx.NewLogger("orchestrator"),
		fanOut:   DefaultVerificationFanOut,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit ingests a document and schedules its analysis. A document with a
// known content fingerprint is reused rather than re-stored; the analysis
// record is always fresh. Returns once the run is scheduled.
func (o *Orchestrator) Submit(ctx context.Context, filename, contentType string, content []byte) (*persistence.Analysis, error) {
	hash := utils.ContentFingerprint(content)

	doc, err := o.store.GetDocumentByHash(ctx, hash)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		doc = &persistence.Document{
			Filename:    filename,
			ContentHash: hash,
			ContentType: contentType,
			Content:     string(content),
			SizeBytes:   int64(len(content)),
		}
		if err := o.store.InsertDocument(ctx, doc); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		o.logger.Info("document fingerprint %s already known, reusing document %d", hash, doc.ID)
	}

	analysis := &persistence.Analysis{DocumentID: doc.ID}
	if err := o.store.InsertAnalysis(ctx, analysis); err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Detached from the submitting request's lifetime.
		if err := o.Run(context.Background(), analysis.ID); err != nil {
			o.logger.Error("analysis %d: %v", analysis.ID, err)
		}
	}()

	return analysis, nil
}

// Wait blocks until all scheduled runs have finished. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run drives one analysis from QUEUED to a terminal status. Each phase
// persists its results before the next phase begins; a required-phase
// failure transitions to FAILED with the originating phase recorded.
func (o *Orchestrator) Run(ctx context.Context, analysisID int64) error {
	analysis, err := o.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return err
	}
	document, err := o.store.GetDocument(ctx, analysis.DocumentID)
	if err != nil {
		return err
	}

	st := &analysisState{analysis: analysis, document: document}
	o.metrics.recordStart()
	o.logger.Info("analysis %d started (document %d, %s)", analysis.ID, document.ID, document.Filename)

	phases := []struct {
		status string
		run    func(context.Context, *analysisState) error
	}{
		{persistence.StatusProcessing, o.runProcessing},
		{persistence.StatusClaimExtraction, o.runClaimExtraction},
		{persistence.StatusVerification, o.runVerification},
		{persistence.StatusReportGeneration, o.runReportGeneration},
		{persistence.StatusQualityReview, o.runQualityReview},
	}

	for _, phase := range phases {
		if err := o.enterPhase(ctx, st, phase.status); err != nil {
			return o.fail(ctx, st, phase.status, err)
		}
		start := time.Now()
		err := phase.run(ctx, st)
		o.metrics.recordPhase(phase.status, start)
		if err != nil {
			return o.fail(ctx, st, phase.status, err)
		}
	}

	if err := st.transition(persistence.StatusCompleted); err != nil {
		return o.fail(ctx, st, persistence.StatusQualityReview, err)
	}
	if err := o.store.UpdateAnalysisStatus(ctx, analysis); err != nil {
		return o.fail(ctx, st, persistence.StatusQualityReview, err)
	}

	o.metrics.recordFinish(persistence.StatusCompleted)
	o.logger.Info("analysis %d completed (%d claims, %d errors)",
		analysis.ID, len(st.claims), len(analysis.Errors))
	return nil
}

// enterPhase transitions into a phase and persists the new status so the
// analysis is queryable mid-flight.
func (o *Orchestrator) enterPhase(ctx context.Context, st *analysisState, status string) error {
	if err := st.transition(status); err != nil {
		return err
	}
	return o.store.UpdateAnalysisStatus(ctx, st.analysis)
}

// fail moves the analysis to FAILED, recording the originating phase and
// error detail. FAILED is terminal and never retried automatically.
func (o *Orchestrator) fail(ctx context.Context, st *analysisState, phase string, cause error) error {
	st.addError(phase, 0, cause)
	st.analysis.FailedPhase = phase
	st.analysis.Status = persistence.StatusFailed

	if err := o.store.UpdateAnalysisStatus(ctx, st.analysis); err != nil {
		o.logger.Error("analysis %d: failed to persist FAILED status: %v", st.analysis.ID, err)
	}
	o.metrics.recordFinish(persistence.StatusFailed)
	o.logger.Warn("analysis %d failed in %s: %v", st.analysis.ID, phase, cause)
	return cause
}

func (o *Orchestrator) runProcessing(ctx context.Context, st *analysisState) error {
	spec, err := o.cfg.AgentForRole(config.RoleDocumentProcessor)
	if err != nil {
		return err
	}

	result, err := o.executor.Execute(ctx, agent.Task{
		AnalysisID: st.analysis.ID,
		Agent:      spec.Name,
		Kind:       agent.KindProcessDocument,
		Payload:    fmt.Sprintf("Document: %s\n\n%s", st.document.Filename, st.document.Content),
	})
	if err != nil {
		return err
	}

	parsed := result.Document
	st.analysis.Summary = parsed.Summary
	st.analysis.Topics = parsed.Topics

	// Extracted metadata lands on the document row before the phase
	// transition persists the analysis.
	st.document.Title = parsed.Title
	st.document.Authors = parsed.Authors
	st.document.PublicationDate = parsed.PublicationDate
	st.document.SourceURL = parsed.SourceURL
	return o.store.UpdateDocumentMetadata(ctx, st.document)
}

func (o *Orchestrator) runClaimExtraction(ctx context.Context, st *analysisState) error {
	spec, err := o.cfg.AgentForRole(config.RoleClaimExtractor)
	if err != nil {
		return err
	}

	result, err := o.executor.Execute(ctx, agent.Task{
		AnalysisID: st.analysis.ID,
		Agent:      spec.Name,
		Kind:       agent.KindExtractClaims,
		Payload:    st.document.Content,
	})
	if err != nil {
		return err
	}

	// Each claim is persisted individually before the phase transition.
	// An empty claim list is a valid outcome and proceeds with zero
	// downstream verification work.
	for i := range result.Claims.Claims {
		item := &result.Claims.Claims[i]
		claim := &persistence.Claim{
			AnalysisID: st.analysis.ID,
			Text:       item.Text,
			Type:       item.Type,
			Location:   item.Location,
			Excerpt:    item.Excerpt,
			Confidence: item.Confidence,
		}
		if err := o.store.InsertClaim(ctx, claim); err != nil {
			return err
		}
		st.claims = append(st.claims, claim)
	}

	o.metrics.recordClaims(len(st.claims))
	o.logger.Info("analysis %d: %d claims extracted", st.analysis.ID, len(st.claims))
	return nil
}

// runVerification fans out per-claim verification up to the configured
// concurrency bound. A single claim's failure is recorded in the error log
// and leaves that claim without a verification record; it never aborts the
// analysis. Persistence failures are the exception: an unpersisted result
// cannot be assumed committed, so they fail the whole run.
func (o *Orchestrator) runVerification(ctx context.Context, st *analysisState) error {
	spec, err := o.cfg.AgentForRole(config.RoleVerificationSpecialist)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		fatalErr error
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, o.fanOut)

	for _, claim := range st.claims {
		wg.Add(1)
		sem <- struct{}{}
		go func(claim *persistence.Claim) {
			defer wg.Done()
			defer func() { <-sem }()

			verifyErr := o.verifyClaim(ctx, st, spec.Name, claim)
			if verifyErr == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if faults.Is(verifyErr, faults.ErrorTypePersistence) {
				if fatalErr == nil {
					fatalErr = verifyErr
				}
				return
			}
			st.addError(persistence.StatusVerification, claim.ID, verifyErr)
			o.metrics.recordVerification("failed")
		}(claim)
	}
	wg.Wait()

	return fatalErr
}

func (o *Orchestrator) verifyClaim(ctx context.Context, st *analysisState, agentName string, claim *persistence.Claim) error {
	payload, err := json.Marshal(map[string]any{
		"claim":   claim.Text,
		"type":    claim.Type,
		"excerpt": claim.Excerpt,
		"context": st.analysis.Summary,
	})
	if err != nil {
		return faults.WithCause(faults.ErrorTypeAgentExecution, err, "failed to build verification payload")
	}

	result, err := o.executor.Execute(ctx, agent.Task{
		AnalysisID: st.analysis.ID,
		Agent:      agentName,
		Kind:       agent.KindVerifyClaim,
		Payload:    string(payload),
	})
	if err != nil {
		return err
	}

	verdict := result.Verification
	verification := &persistence.Verification{
		ClaimID:              claim.ID,
		Status:               verdict.Status,
		Confidence:           verdict.Confidence,
		SupportingSources:    verdict.SupportingSources,
		ContradictingSources: verdict.ContradictingSources,
		Notes:                verdict.Notes,
	}
	if err := o.store.UpsertVerification(ctx, verification); err != nil {
		return err
	}
	o.metrics.recordVerification(verdict.Status)
	return nil
}

func (o *Orchestrator) runReportGeneration(ctx context.Context, st *analysisState) error {
	spec, err := o.cfg.AgentForRole(config.RoleReportWriter)
	if err != nil {
		return err
	}

	verifications, err := o.store.ListVerifications(ctx, st.analysis.ID)
	if err != nil {
		return err
	}

	type claimSummary struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		Status     string  `json:"status"`
		Confidence float64 `json:"confidence,omitempty"`
		Notes      string  `json:"notes,omitempty"`
	}
	summaries := make([]claimSummary, 0, len(st.claims))
	for _, claim := range st.claims {
		cs := claimSummary{Text: claim.Text, Type: claim.Type, Status: "no verification result"}
		if v, ok := verifications[claim.ID]; ok {
			cs.Status = v.Status
			cs.Confidence = v.Confidence
			cs.Notes = v.Notes
		}
		summaries = append(summaries, cs)
	}

	payload, err := json.Marshal(map[string]any{
		"document": st.document.Filename,
		"summary":  st.analysis.Summary,
		"claims":   summaries,
	})
	if err != nil {
		return faults.WithCause(faults.ErrorTypeAgentExecution, err, "failed to build report payload")
	}

	result, err := o.executor.Execute(ctx, agent.Task{
		AnalysisID: st.analysis.ID,
		Agent:      spec.Name,
		Kind:       agent.KindWriteReport,
		Payload:    string(payload),
	})
	if err != nil {
		return err
	}

	report := &persistence.Report{
		AnalysisID: st.analysis.ID,
		Content:    result.Report.Content,
		Quality:    result.Report.Quality,
	}
	if err := o.store.InsertReport(ctx, report); err != nil {
		return err
	}
	st.report = report
	return nil
}

// runQualityReview obtains the review verdict and sets the report approval
// flag. The analysis completes regardless of approve or reject: rejection is
// a content judgment, not a pipeline failure.
func (o *Orchestrator) runQualityReview(ctx context.Context, st *analysisState) error {
	spec, err := o.cfg.AgentForRole(config.RoleQualityReviewer)
	if err != nil {
		return err
	}

	result, err := o.executor.Execute(ctx, agent.Task{
		AnalysisID: st.analysis.ID,
		Agent:      spec.Name,
		Kind:       agent.KindReviewReport,
		Payload:    st.report.Content,
	})
	if err != nil {
		return err
	}

	if err := o.store.SetReportApproval(ctx, st.analysis.ID, result.Review.Approved); err != nil {
		return err
	}
	approved := result.Review.Approved
	st.report.Approved = &approved

	o.logger.Info("analysis %d review verdict: approved=%t (%s)",
		st.analysis.ID, approved, result.Review.Rationale)
	return nil
}

// ClaimStatus pairs a claim with its verification result, if any.
type ClaimStatus struct {
	Claim        *persistence.Claim        `json:"claim"`
	Verification *persistence.Verification `json:"verification,omitempty"`
}

// AnalysisStatus is the queryable progress view of one analysis. For FAILED
// analyses it carries the failing phase and error detail; for COMPLETED
// analyses with partial verification failures it flags the claims that lack
// a verification result.
type AnalysisStatus struct {
	Analysis           *persistence.Analysis `json:"analysis"`
	Document           *persistence.Document `json:"document"`
	Claims             []ClaimStatus         `json:"claims,omitempty"`
	Report             *persistence.Report   `json:"report,omitempty"`
	UnverifiedClaimIDs []int64               `json:"unverified_claim_ids,omitempty"`
}

// Status assembles the progress view for an analysis, queryable mid-flight.
func (o *Orchestrator) Status(ctx context.Context, analysisID int64) (*AnalysisStatus, error) {
	analysis, err := o.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	document, err := o.store.GetDocument(ctx, analysis.DocumentID)
	if err != nil {
		return nil, err
	}
	claims, err := o.store.ListClaims(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	verifications, err := o.store.ListVerifications(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	status := &AnalysisStatus{Analysis: analysis, Document: document}
	for _, claim := range claims {
		cs := ClaimStatus{Claim: claim}
		if v, ok := verifications[claim.ID]; ok {
			cs.Verification = v
		} else {
			status.UnverifiedClaimIDs = append(status.UnverifiedClaimIDs, claim.ID)
		}
		status.Claims = append(status.Claims, cs)
	}

	report, err := o.store.GetReport(ctx, analysisID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	status.Report = report
	return status, nil
}
