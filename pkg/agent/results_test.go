package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/faults"
)

func TestParseClaimList(t *testing.T) {
	content := `{"claims": [
		{"text": "Coffee consumption doubled since 2010", "type": "quantitative", "confidence": 0.9},
		{"text": "Caffeine causes improved alertness", "type": "causal", "confidence": 1.4}
	]}`

	list, err := ParseClaimList(content)
	require.NoError(t, err)
	require.Len(t, list.Claims, 2)
	assert.Equal(t, ClaimTypeQuantitative, list.Claims[0].Type)
	assert.Equal(t, 1.0, list.Claims[1].Confidence, "confidence clamped to [0,1]")
}

func TestParseClaimListEmpty(t *testing.T) {
	list, err := ParseClaimList(`{"claims": []}`)
	require.NoError(t, err)
	assert.Empty(t, list.Claims, "empty claim list is a valid outcome")
}

func TestParseClaimListUnknownType(t *testing.T) {
	_, err := ParseClaimList(`{"claims": [{"text": "x", "type": "speculative"}]}`)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeMalformedResult))
}

func TestParseClaimListMarkdownFenced(t *testing.T) {
	content := "Here are the claims:\n```json\n{\"claims\": [{\"text\": \"x\", \"type\": \"causal\", \"confidence\": 0.5}]}\n```"
	list, err := ParseClaimList(content)
	require.NoError(t, err)
	require.Len(t, list.Claims, 1)
}

func TestParseVerificationVerdict(t *testing.T) {
	verdict, err := ParseVerificationVerdict(`{
		"status": "contradicted",
		"confidence": 0.8,
		"contradicting_sources": ["doi:10.1000/xyz"],
		"notes": "Later studies found the opposite effect."
	}`)
	require.NoError(t, err)
	assert.Equal(t, VerificationContradicted, verdict.Status)
	assert.Equal(t, []string{"doi:10.1000/xyz"}, verdict.ContradictingSources)
}

func TestParseVerificationVerdictBadStatus(t *testing.T) {
	_, err := ParseVerificationVerdict(`{"status": "maybe", "confidence": 0.5}`)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeMalformedResult))
}

func TestParseDocumentSummary(t *testing.T) {
	summary, err := ParseDocumentSummary(`{"title": "Study", "summary": "A study of things.", "topics": ["health"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Study", summary.Title)

	_, err = ParseDocumentSummary(`{"title": "Study"}`)
	require.Error(t, err, "empty summary rejected")
}

func TestParseReviewVerdict(t *testing.T) {
	verdict, err := ParseReviewVerdict(`{"approved": false, "rationale": "Claims 2 and 3 lack sources."}`)
	require.NoError(t, err)
	assert.False(t, verdict.Approved)

	_, err = ParseReviewVerdict(`{"approved": true}`)
	require.Error(t, err, "rationale is required")
}

func TestParseReportText(t *testing.T) {
	report, err := ParseReportText(`{"content": "# Findings\nAll claims verified.", "quality": "high"}`)
	require.NoError(t, err)
	assert.Equal(t, "high", report.Quality)

	_, err = ParseReportText(`not json at all`)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeMalformedResult))
}
