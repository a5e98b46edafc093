package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/faults"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func insertTestAnalysis(t *testing.T, store *Store) *Analysis {
	t.Helper()
	ctx := context.Background()

	doc := &Document{
		Filename:    "paper.txt",
		ContentHash: "abc123def456",
		Content:     "document body",
		SizeBytes:   13,
	}
	require.NoError(t, store.InsertDocument(ctx, doc))

	analysis := &Analysis{DocumentID: doc.ID}
	require.NoError(t, store.InsertAnalysis(ctx, analysis))
	return analysis
}

func TestDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		Filename:    "study.pdf",
		ContentHash: "deadbeef0123",
		ContentType: "application/pdf",
		Content:     "full text",
		SizeBytes:   9,
	}
	require.NoError(t, store.InsertDocument(ctx, doc))
	require.NotZero(t, doc.ID)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "study.pdf", got.Filename)

	byHash, err := store.GetDocumentByHash(ctx, "deadbeef0123")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	_, err = store.GetDocumentByHash(ctx, "0000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentMetadataUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Filename: "study.pdf", ContentHash: "abcd1234ef56", Content: "x", SizeBytes: 1}
	require.NoError(t, store.InsertDocument(ctx, doc))

	doc.Title = "Caffeine and Sleep"
	doc.Authors = []string{"J. Doe", "R. Roe"}
	doc.PublicationDate = "2023-06-01"
	doc.SourceURL = "https://example.org/caffeine"
	require.NoError(t, store.UpdateDocumentMetadata(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Caffeine and Sleep", got.Title)
	assert.Equal(t, []string{"J. Doe", "R. Roe"}, got.Authors)
	assert.Equal(t, "2023-06-01", got.PublicationDate)
	assert.Equal(t, "https://example.org/caffeine", got.SourceURL)
}

func TestAnalysisStatusAndErrorLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analysis := insertTestAnalysis(t, store)
	assert.Equal(t, StatusQueued, analysis.Status)

	analysis.Status = StatusFailed
	analysis.FailedPhase = StatusProcessing
	analysis.Topics = []string{"sleep", "caffeine"}
	analysis.Errors = []ErrorEntry{{Phase: StatusProcessing, Message: "parse failed"}}
	require.NoError(t, store.UpdateAnalysisStatus(ctx, analysis))
	require.NotNil(t, analysis.CompletedAt)

	got, err := store.GetAnalysis(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, StatusProcessing, got.FailedPhase)
	assert.Equal(t, []string{"sleep", "caffeine"}, got.Topics)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "parse failed", got.Errors[0].Message)
	assert.NotNil(t, got.CompletedAt)
}

func TestListAnalyses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := insertTestAnalysis(t, store)

	doc := &Document{Filename: "b.txt", ContentHash: "feedface9876", Content: "x", SizeBytes: 1}
	require.NoError(t, store.InsertDocument(ctx, doc))
	second := &Analysis{DocumentID: doc.ID}
	require.NoError(t, store.InsertAnalysis(ctx, second))

	analyses, err := store.ListAnalyses(ctx)
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	assert.Equal(t, second.ID, analyses[0].ID, "newest first")
	assert.Equal(t, first.ID, analyses[1].ID)
}

func TestClaimsExtractionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analysis := insertTestAnalysis(t, store)

	texts := []string{"first claim", "second claim", "third claim"}
	for _, text := range texts {
		claim := &Claim{AnalysisID: analysis.ID, Text: text, Type: "causal", Confidence: 0.5}
		require.NoError(t, store.InsertClaim(ctx, claim))
	}

	claims, err := store.ListClaims(ctx, analysis.ID)
	require.NoError(t, err)
	require.Len(t, claims, 3)
	for i, claim := range claims {
		assert.Equal(t, texts[i], claim.Text)
	}
}

func TestVerificationUpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analysis := insertTestAnalysis(t, store)

	claim := &Claim{AnalysisID: analysis.ID, Text: "x", Type: "quantitative"}
	require.NoError(t, store.InsertClaim(ctx, claim))

	v1 := &Verification{ClaimID: claim.ID, Status: "unverified", Confidence: 0.2}
	require.NoError(t, store.UpsertVerification(ctx, v1))

	v2 := &Verification{
		ClaimID:           claim.ID,
		Status:            "verified",
		Confidence:        0.9,
		SupportingSources: []string{"doi:10.1/a"},
	}
	require.NoError(t, store.UpsertVerification(ctx, v2))

	verifications, err := store.ListVerifications(ctx, analysis.ID)
	require.NoError(t, err)
	require.Len(t, verifications, 1, "re-verification replaces, never duplicates")
	assert.Equal(t, "verified", verifications[claim.ID].Status)
	assert.Equal(t, []string{"doi:10.1/a"}, verifications[claim.ID].SupportingSources)
}

func TestVerificationUpsertKeepsRowID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analysis := insertTestAnalysis(t, store)

	claim := &Claim{AnalysisID: analysis.ID, Text: "x", Type: "quantitative"}
	require.NoError(t, store.InsertClaim(ctx, claim))

	v1 := &Verification{ClaimID: claim.ID, Status: "unverified", Confidence: 0.2}
	require.NoError(t, store.UpsertVerification(ctx, v1))
	require.NotZero(t, v1.ID)

	// An unrelated insert in between moves the connection's last rowid.
	other := &Claim{AnalysisID: analysis.ID, Text: "y", Type: "causal"}
	require.NoError(t, store.InsertClaim(ctx, other))

	v2 := &Verification{ClaimID: claim.ID, Status: "verified", Confidence: 0.9}
	require.NoError(t, store.UpsertVerification(ctx, v2))
	assert.Equal(t, v1.ID, v2.ID, "replacement keeps the original row id")

	verifications, err := store.ListVerifications(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, verifications[claim.ID].ID)
}

func TestReportApprovalSetOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analysis := insertTestAnalysis(t, store)

	report := &Report{AnalysisID: analysis.ID, Content: "# Findings", Quality: "high"}
	require.NoError(t, store.InsertReport(ctx, report))

	got, err := store.GetReport(ctx, analysis.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Approved, "approval starts unset")

	require.NoError(t, store.SetReportApproval(ctx, analysis.ID, true))

	got, err = store.GetReport(ctx, analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Approved)
	assert.True(t, *got.Approved)

	// Second transition is rejected: the flag is terminal.
	err = store.SetReportApproval(ctx, analysis.ID, false)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypePersistence))
}

func TestGetAnalysisNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetAnalysis(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}
