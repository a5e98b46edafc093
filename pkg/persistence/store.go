package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veracity/pkg/faults"
	"veracity/pkg/logx"
)

// DefaultAcquireWait bounds how long an operation waits for a pool slot
// before failing with ResourceUnavailable.
const DefaultAcquireWait = 5 * time.Second

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides the persistence operations over the five record kinds.
// A semaphore bounds in-flight operations at the pool maximum so exhaustion
// surfaces as a classified error within a bounded wait.
type Store struct {
	db          *sql.DB
	sem         chan struct{}
	acquireWait time.Duration
	logger      *logx.Logger
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		sem:         make(chan struct{}, maxPoolConns),
		acquireWait: DefaultAcquireWait,
		logger:      logx.NewLogger("persistence"),
	}
}

// acquire takes a pool slot, waiting at most acquireWait.
func (s *Store) acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(s.acquireWait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-timer.C:
		s.logger.Warn("connection pool exhausted after %s wait", s.acquireWait)
		return nil, faults.Newf(faults.ErrorTypeResourceUnavailable,
			"connection pool exhausted after %s wait", s.acquireWait)
	case <-ctx.Done():
		return nil, faults.WithCause(faults.ErrorTypePersistence, ctx.Err(), "operation canceled")
	}
}

func persistErr(op string, err error) error {
	return faults.WithCause(faults.ErrorTypePersistence, err, fmt.Sprintf("failed to %s", op))
}

// InsertDocument stores a document and assigns its identifier.
func (s *Store) InsertDocument(ctx context.Context, doc *Document) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	authors, err := json.Marshal(doc.Authors)
	if err != nil {
		return persistErr("encode document authors", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, title, authors, publication_date, source_url, content_hash, content_type, content, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Filename, doc.Title, string(authors), doc.PublicationDate, doc.SourceURL,
		doc.ContentHash, doc.ContentType, doc.Content, doc.SizeBytes, now)
	if err != nil {
		return persistErr("insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("read document id", err)
	}
	doc.ID = id
	doc.UploadedAt = now
	return nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, filename, title, authors, publication_date, source_url, content_hash, content_type, content, size_bytes, uploaded_at
		FROM documents WHERE id = ?`, id))
}

// GetDocumentByHash fetches a document by content fingerprint. Used for
// upload de-duplication.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, filename, title, authors, publication_date, source_url, content_hash, content_type, content, size_bytes, uploaded_at
		FROM documents WHERE content_hash = ?`, hash))
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var authors string
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Title, &authors, &doc.PublicationDate,
		&doc.SourceURL, &doc.ContentHash, &doc.ContentType,
		&doc.Content, &doc.SizeBytes, &doc.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("scan document", err)
	}
	if err := json.Unmarshal([]byte(authors), &doc.Authors); err != nil {
		return nil, persistErr("decode document authors", err)
	}
	return &doc, nil
}

// UpdateDocumentMetadata records the metadata the processing phase extracted:
// title, authors, publication date, and source URL.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, doc *Document) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	authors, err := json.Marshal(doc.Authors)
	if err != nil {
		return persistErr("encode document authors", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = ?, authors = ?, publication_date = ?, source_url = ?
		WHERE id = ?`,
		doc.Title, string(authors), doc.PublicationDate, doc.SourceURL, doc.ID)
	if err != nil {
		return persistErr("update document metadata", err)
	}
	return nil
}

// InsertAnalysis creates an analysis record in QUEUED status.
func (s *Store) InsertAnalysis(ctx context.Context, analysis *Analysis) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (document_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		analysis.DocumentID, StatusQueued, now, now)
	if err != nil {
		return persistErr("insert analysis", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("read analysis id", err)
	}
	analysis.ID = id
	analysis.Status = StatusQueued
	analysis.CreatedAt = now
	analysis.UpdatedAt = now
	return nil
}

// GetAnalysis fetches an analysis by id.
func (s *Store) GetAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, status, summary, topics, failed_phase, error_log, created_at, updated_at, completed_at
		FROM analyses WHERE id = ?`, id)
	return scanAnalysis(row)
}

// ListAnalyses returns all analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context) ([]*Analysis, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, status, summary, topics, failed_phase, error_log, created_at, updated_at, completed_at
		FROM analyses ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, persistErr("list analyses", err)
	}
	defer rows.Close() //nolint:errcheck // Best-effort close on defer

	var analyses []*Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate analyses", err)
	}
	return analyses, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*Analysis, error) {
	var analysis Analysis
	var topics, errorLog string
	var completedAt sql.NullTime
	err := row.Scan(&analysis.ID, &analysis.DocumentID, &analysis.Status, &analysis.Summary,
		&topics, &analysis.FailedPhase, &errorLog, &analysis.CreatedAt, &analysis.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("scan analysis", err)
	}
	if completedAt.Valid {
		analysis.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(topics), &analysis.Topics); err != nil {
		return nil, persistErr("decode analysis topics", err)
	}
	if err := json.Unmarshal([]byte(errorLog), &analysis.Errors); err != nil {
		return nil, persistErr("decode analysis error log", err)
	}
	return &analysis, nil
}

// UpdateAnalysisStatus records a status transition together with the current
// summary, failure detail, and error log. Terminal statuses also set the
// completion timestamp.
func (s *Store) UpdateAnalysisStatus(ctx context.Context, analysis *Analysis) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	topics, err := json.Marshal(analysis.Topics)
	if err != nil {
		return persistErr("encode analysis topics", err)
	}
	errorLog, err := json.Marshal(analysis.Errors)
	if err != nil {
		return persistErr("encode analysis error log", err)
	}

	now := time.Now().UTC()
	var completedAt any
	if analysis.Status == StatusCompleted || analysis.Status == StatusFailed {
		completedAt = now
		analysis.CompletedAt = &now
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE analyses
		SET status = ?, summary = ?, topics = ?, failed_phase = ?, error_log = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		analysis.Status, analysis.Summary, string(topics), analysis.FailedPhase, string(errorLog), now, completedAt, analysis.ID)
	if err != nil {
		return persistErr("update analysis status", err)
	}
	analysis.UpdatedAt = now
	return nil
}

// InsertClaim stores one extracted claim.
func (s *Store) InsertClaim(ctx context.Context, claim *Claim) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (analysis_id, text, type, location, excerpt, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		claim.AnalysisID, claim.Text, claim.Type, claim.Location, claim.Excerpt, claim.Confidence, now)
	if err != nil {
		return persistErr("insert claim", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("read claim id", err)
	}
	claim.ID = id
	claim.CreatedAt = now
	return nil
}

// ListClaims returns the claims of an analysis in extraction order.
func (s *Store) ListClaims(ctx context.Context, analysisID int64) ([]*Claim, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_id, text, type, location, excerpt, confidence, created_at
		FROM claims WHERE analysis_id = ? ORDER BY id`, analysisID)
	if err != nil {
		return nil, persistErr("list claims", err)
	}
	defer rows.Close() //nolint:errcheck // Best-effort close on defer

	var claims []*Claim
	for rows.Next() {
		var claim Claim
		if err := rows.Scan(&claim.ID, &claim.AnalysisID, &claim.Text, &claim.Type,
			&claim.Location, &claim.Excerpt, &claim.Confidence, &claim.CreatedAt); err != nil {
			return nil, persistErr("scan claim", err)
		}
		claims = append(claims, &claim)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate claims", err)
	}
	return claims, nil
}

// UpsertVerification stores the verification result for a claim. A second
// insert for the same claim replaces the previous record rather than
// duplicating it.
func (s *Store) UpsertVerification(ctx context.Context, verification *Verification) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	supporting, err := json.Marshal(verification.SupportingSources)
	if err != nil {
		return persistErr("encode supporting sources", err)
	}
	contradicting, err := json.Marshal(verification.ContradictingSources)
	if err != nil {
		return persistErr("encode contradicting sources", err)
	}

	// RETURNING yields the row's id on both the insert and the conflict-update
	// path; LastInsertId would reflect the connection's previous insert after
	// an update.
	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO verifications (claim_id, status, confidence, supporting_sources, contradicting_sources, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(claim_id) DO UPDATE SET
			status = excluded.status,
			confidence = excluded.confidence,
			supporting_sources = excluded.supporting_sources,
			contradicting_sources = excluded.contradicting_sources,
			notes = excluded.notes,
			created_at = excluded.created_at
		RETURNING id`,
		verification.ClaimID, verification.Status, verification.Confidence,
		string(supporting), string(contradicting), verification.Notes, now).
		Scan(&verification.ID)
	if err != nil {
		return persistErr("upsert verification", err)
	}
	verification.CreatedAt = now
	return nil
}

// ListVerifications returns the verification results for an analysis, keyed
// by claim id.
func (s *Store) ListVerifications(ctx context.Context, analysisID int64) (map[int64]*Verification, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.claim_id, v.status, v.confidence, v.supporting_sources, v.contradicting_sources, v.notes, v.created_at
		FROM verifications v
		JOIN claims c ON c.id = v.claim_id
		WHERE c.analysis_id = ?
		ORDER BY v.claim_id`, analysisID)
	if err != nil {
		return nil, persistErr("list verifications", err)
	}
	defer rows.Close() //nolint:errcheck // Best-effort close on defer

	verifications := make(map[int64]*Verification)
	for rows.Next() {
		var v Verification
		var supporting, contradicting string
		if err := rows.Scan(&v.ID, &v.ClaimID, &v.Status, &v.Confidence,
			&supporting, &contradicting, &v.Notes, &v.CreatedAt); err != nil {
			return nil, persistErr("scan verification", err)
		}
		if err := json.Unmarshal([]byte(supporting), &v.SupportingSources); err != nil {
			return nil, persistErr("decode supporting sources", err)
		}
		if err := json.Unmarshal([]byte(contradicting), &v.ContradictingSources); err != nil {
			return nil, persistErr("decode contradicting sources", err)
		}
		verifications[v.ClaimID] = &v
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate verifications", err)
	}
	return verifications, nil
}

// InsertReport stores the report for an analysis with approval unset. At most
// one report per analysis.
func (s *Store) InsertReport(ctx context.Context, report *Report) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (analysis_id, content, quality, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		report.AnalysisID, report.Content, report.Quality, now, now)
	if err != nil {
		return persistErr("insert report", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("read report id", err)
	}
	report.ID = id
	report.CreatedAt = now
	report.UpdatedAt = now
	return nil
}

// GetReport fetches the report of an analysis.
func (s *Store) GetReport(ctx context.Context, analysisID int64) (*Report, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var report Report
	var approved sql.NullBool
	err = s.db.QueryRowContext(ctx, `
		SELECT id, analysis_id, content, quality, approved, created_at, updated_at
		FROM reports WHERE analysis_id = ?`, analysisID).
		Scan(&report.ID, &report.AnalysisID, &report.Content, &report.Quality,
			&approved, &report.CreatedAt, &report.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("scan report", err)
	}
	if approved.Valid {
		report.Approved = &approved.Bool
	}
	return &report, nil
}

// SetReportApproval records the quality-review verdict. The flag transitions
// from unset to its terminal value exactly once.
func (s *Store) SetReportApproval(ctx context.Context, analysisID int64, approved bool) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET approved = ?, updated_at = ?
		WHERE analysis_id = ? AND approved IS NULL`,
		approved, time.Now().UTC(), analysisID)
	if err != nil {
		return persistErr("set report approval", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("read approval update count", err)
	}
	if affected == 0 {
		return faults.Newf(faults.ErrorTypePersistence,
			"report approval for analysis %d already set or report missing", analysisID)
	}
	return nil
}
