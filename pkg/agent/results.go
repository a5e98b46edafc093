package agent

import (
	"encoding/json"
	"strings"

	"veracity/pkg/faults"
)

// TaskKind selects the expected result shape for an executed task.
type TaskKind string

const (
	// KindProcessDocument expects parsed document metadata.
	KindProcessDocument TaskKind = "process_document"
	// KindExtractClaims expects a list of classified claims.
	KindExtractClaims TaskKind = "extract_claims"
	// KindVerifyClaim expects a single verification verdict.
	KindVerifyClaim TaskKind = "verify_claim"
	// KindWriteReport expects synthesized report text.
	KindWriteReport TaskKind = "write_report"
	// KindReviewReport expects an approve/reject verdict with rationale.
	KindReviewReport TaskKind = "review_report"
)

// Claim type classifications.
const (
	ClaimTypeQuantitative   = "quantitative"
	ClaimTypeCausal         = "causal"
	ClaimTypeMethodological = "methodological"
	ClaimTypeDefinitional   = "definitional"
	ClaimTypePrescriptive   = "prescriptive"
)

// Verification statuses.
const (
	VerificationVerified     = "verified"
	VerificationContradicted = "contradicted"
	VerificationUnverified   = "unverified"
)

// DocumentSummary is the parsed-document result shape. Metadata beyond the
// summary is optional; documents rarely state all of it.
type DocumentSummary struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Topics          []string `json:"topics,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	PublicationDate string   `json:"date,omitempty"`
	SourceURL       string   `json:"source_url,omitempty"`
}

// ClaimItem is one extracted claim.
type ClaimItem struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Location   string  `json:"location,omitempty"`
	Confidence float64 `json:"confidence"`
	Excerpt    string  `json:"excerpt,omitempty"`
}

// ClaimList is the claim-extraction result shape. An empty list is a valid
// outcome, not an error.
type ClaimList struct {
	Claims []ClaimItem `json:"claims"`
}

// VerificationVerdict is the per-claim verification result shape.
type VerificationVerdict struct {
	Status               string   `json:"status"`
	Confidence           float64  `json:"confidence"`
	SupportingSources    []string `json:"supporting_sources,omitempty"`
	ContradictingSources []string `json:"contradicting_sources,omitempty"`
	Notes                string   `json:"notes,omitempty"`
}

// ReportText is the report-generation result shape.
type ReportText struct {
	Content string `json:"content"`
	Quality string `json:"quality,omitempty"`
}

// ReviewVerdict is the quality-review result shape.
type ReviewVerdict struct {
	Approved  bool   `json:"approved"`
	Rationale string `json:"rationale"`
}

var validClaimTypes = map[string]bool{
	ClaimTypeQuantitative:   true,
	ClaimTypeCausal:         true,
	ClaimTypeMethodological: true,
	ClaimTypeDefinitional:   true,
	ClaimTypePrescriptive:   true,
}

var validVerificationStatuses = map[string]bool{
	VerificationVerified:     true,
	VerificationContradicted: true,
	VerificationUnverified:   true,
}

// extractJSON strips markdown code fences that models commonly wrap JSON in.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "```"); start != -1 {
		rest := trimmed[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return trimmed
}

func decodeResult(content string, out any, shape string) error {
	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		return faults.WithCause(faults.ErrorTypeMalformedResult, err,
			"result does not match expected "+shape+" shape")
	}
	return nil
}

// ParseDocumentSummary parses and validates a parsed-document result.
func ParseDocumentSummary(content string) (*DocumentSummary, error) {
	var summary DocumentSummary
	if err := decodeResult(content, &summary, "document summary"); err != nil {
		return nil, err
	}
	if summary.Summary == "" {
		return nil, faults.New(faults.ErrorTypeMalformedResult, "document summary is empty")
	}
	return &summary, nil
}

// ParseClaimList parses and validates a claim-extraction result. Unknown claim
// types are rejected; confidence values are clamped to [0,1].
func ParseClaimList(content string) (*ClaimList, error) {
	var list ClaimList
	if err := decodeResult(content, &list, "claim list"); err != nil {
		return nil, err
	}
	for i := range list.Claims {
		claim := &list.Claims[i]
		if claim.Text == "" {
			return nil, faults.Newf(faults.ErrorTypeMalformedResult, "claim %d has empty text", i)
		}
		if !validClaimTypes[claim.Type] {
			return nil, faults.Newf(faults.ErrorTypeMalformedResult, "claim %d has unknown type %q", i, claim.Type)
		}
		claim.Confidence = clamp01(claim.Confidence)
	}
	return &list, nil
}

// ParseVerificationVerdict parses and validates a verification result.
func ParseVerificationVerdict(content string) (*VerificationVerdict, error) {
	var verdict VerificationVerdict
	if err := decodeResult(content, &verdict, "verification verdict"); err != nil {
		return nil, err
	}
	if !validVerificationStatuses[verdict.Status] {
		return nil, faults.Newf(faults.ErrorTypeMalformedResult, "unknown verification status %q", verdict.Status)
	}
	verdict.Confidence = clamp01(verdict.Confidence)
	return &verdict, nil
}

// ParseReportText parses and validates a report-generation result.
func ParseReportText(content string) (*ReportText, error) {
	var report ReportText
	if err := decodeResult(content, &report, "report"); err != nil {
		return nil, err
	}
	if report.Content == "" {
		return nil, faults.New(faults.ErrorTypeMalformedResult, "report content is empty")
	}
	return &report, nil
}

// ParseReviewVerdict parses and validates a quality-review result.
func ParseReviewVerdict(content string) (*ReviewVerdict, error) {
	var verdict ReviewVerdict
	if err := decodeResult(content, &verdict, "review verdict"); err != nil {
		return nil, err
	}
	if verdict.Rationale == "" {
		return nil, faults.New(faults.ErrorTypeMalformedResult, "review verdict has no rationale")
	}
	return &verdict, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
