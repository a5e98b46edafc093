package persistence

import "time"

// Analysis statuses, in strict forward order. FAILED is a parallel absorbing
// terminal state reachable from any non-terminal status.
const (
	StatusQueued           = "QUEUED"
	StatusProcessing       = "PROCESSING"
	StatusClaimExtraction  = "CLAIM_EXTRACTION"
	StatusVerification     = "VERIFICATION"
	StatusReportGeneration = "REPORT_GENERATION"
	StatusQualityReview    = "QUALITY_REVIEW"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
)

// Document is an ingested source document. ContentHash is the fingerprint
// used for upload de-duplication. Title, Authors, PublicationDate, and
// SourceURL are filled by the processing phase when the document states them.
type Document struct {
	UploadedAt      time.Time `json:"uploaded_at"`
	Filename        string    `json:"filename"`
	Title           string    `json:"title,omitempty"`
	Authors         []string  `json:"authors,omitempty"`
	PublicationDate string    `json:"publication_date,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	ContentHash     string    `json:"content_hash"`
	ContentType     string    `json:"content_type"`
	Content         string    `json:"content"`
	ID              int64     `json:"id"`
	SizeBytes       int64     `json:"size_bytes"`
}

// ErrorEntry is one recorded failure in an analysis error log.
type ErrorEntry struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	ClaimID int64  `json:"claim_id,omitempty"`
}

// Analysis is one run of the pipeline over a document. FailedPhase and the
// error log are populated on failure; Summary is populated by the processing
// phase.
type Analysis struct {
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Status      string       `json:"status"`
	Summary     string       `json:"summary,omitempty"`
	Topics      []string     `json:"topics,omitempty"`
	FailedPhase string       `json:"failed_phase,omitempty"`
	Errors      []ErrorEntry `json:"errors,omitempty"`
	ID          int64        `json:"id"`
	DocumentID  int64        `json:"document_id"`
}

// Claim is one extracted claim. Immutable once persisted; corrections create
// new claims.
type Claim struct {
	CreatedAt  time.Time `json:"created_at"`
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	Location   string    `json:"location,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
	ID         int64     `json:"id"`
	AnalysisID int64     `json:"analysis_id"`
	Confidence float64   `json:"confidence"`
}

// Verification is the result of verifying one claim. At most one live record
// per claim; re-verification replaces.
type Verification struct {
	CreatedAt            time.Time `json:"created_at"`
	Status               string    `json:"status"`
	Notes                string    `json:"notes,omitempty"`
	SupportingSources    []string  `json:"supporting_sources,omitempty"`
	ContradictingSources []string  `json:"contradicting_sources,omitempty"`
	ID                   int64     `json:"id"`
	ClaimID              int64     `json:"claim_id"`
	Confidence           float64   `json:"confidence"`
}

// Report is the synthesized output of an analysis. Approved is nil until the
// quality-review phase sets it, then terminal.
type Report struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Content    string    `json:"content"`
	Quality    string    `json:"quality,omitempty"`
	Approved   *bool     `json:"approved,omitempty"`
	ID         int64     `json:"id"`
	AnalysisID int64     `json:"analysis_id"`
}
