// Package httpapi exposes the analysis pipeline over HTTP: document
// submission, progress queries, usage metrics, and Prometheus scraping.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veracity/pkg/config"
	"veracity/pkg/logx"
	"veracity/pkg/metrics"
	"veracity/pkg/orchestrator"
	"veracity/pkg/persistence"
)

// maxUploadBytes bounds document uploads.
const maxUploadBytes = 10 << 20 // 10MB

// UsageService resolves per-analysis LLM usage. Satisfied by
// metrics.QueryService; nil disables the usage endpoint.
type UsageService interface {
	GetAnalysisUsage(ctx context.Context, analysisID string) (*metrics.AnalysisUsage, error)
}

// Server is the HTTP front door to the orchestrator.
type Server struct {
	orch      *orchestrator.Orchestrator
	store     *persistence.Store
	usage     UsageService
	tokenHash string
	logger    *logx.Logger
}

// NewServer creates the API server. tokenHash is the stored scrypt hash of
// the API token; when empty, authentication is disabled and a warning is
// logged at startup.
func NewServer(orch *orchestrator.Orchestrator, store *persistence.Store, usage UsageService, tokenHash string) *Server {
	s := &Server{
		orch:      orch,
		store:     store,
		usage:     usage,
		tokenHash: tokenHash,
		logger:    logx.NewLogger("httpapi"),
	}
	if tokenHash == "" {
		s.logger.Warn("no API token hash configured, requests are unauthenticated")
	}
	return s
}

// RegisterRoutes sets up HTTP routes for the API. The metrics and health
// endpoints stay open so scrapers and probes need no credentials.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/analyze", s.requireAuth(s.handleAnalyze))
	mux.HandleFunc("/api/analyses", s.requireAuth(s.handleAnalyses))
	mux.HandleFunc("/api/analyses/", s.requireAuth(s.handleAnalysis))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// requireAuth wraps a handler with bearer token authentication. The presented
// token is checked against the stored scrypt hash in constant time.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == "" {
			next(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !config.VerifyAPIToken(token, s.tokenHash) {
			s.logger.Warn("failed authentication attempt from %s", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// handleAnalyze implements POST /api/analyze - submit a document for analysis.
// Accepts a multipart upload under the "document" field and returns 202 with
// the created analysis as soon as the run is scheduled.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.logger.Warn("failed to parse multipart form: %v", err)
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, "No document provided", http.StatusBadRequest)
		return
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			s.logger.Warn("failed to close uploaded file: %v", cerr)
		}
	}()

	if header.Size > maxUploadBytes {
		http.Error(w, "Document too large (max 10MB)", http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		s.logger.Error("failed to read uploaded document: %v", err)
		http.Error(w, "Failed to read document", http.StatusInternalServerError)
		return
	}
	if len(content) == 0 {
		http.Error(w, "Empty document", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	filename := filepath.Base(header.Filename)

	analysis, err := s.orch.Submit(r.Context(), filename, contentType, content)
	if err != nil {
		s.logger.Error("failed to submit document %s: %v", filename, err)
		http.Error(w, "Failed to submit document", http.StatusInternalServerError)
		return
	}

	s.logger.Info("accepted document %s as analysis %d", filename, analysis.ID)
	s.writeJSON(w, http.StatusAccepted, analysis)
}

// handleAnalyses implements GET /api/analyses - list analyses, newest first.
func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	analyses, err := s.store.ListAnalyses(r.Context())
	if err != nil {
		s.logger.Error("failed to list analyses: %v", err)
		http.Error(w, "Failed to list analyses", http.StatusInternalServerError)
		return
	}
	if analyses == nil {
		analyses = []*persistence.Analysis{}
	}
	s.writeJSON(w, http.StatusOK, analyses)
}

// handleAnalysis routes GET /api/analyses/{id} and /api/analyses/{id}/usage.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	idPart, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid analysis ID", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		s.serveStatus(w, r, id)
	case "usage":
		s.serveUsage(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request, id int64) {
	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			http.Error(w, "Analysis not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to assemble status for analysis %d: %v", id, err)
		http.Error(w, "Failed to load analysis", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) serveUsage(w http.ResponseWriter, r *http.Request, id int64) {
	if s.usage == nil {
		http.Error(w, "Usage metrics not configured", http.StatusServiceUnavailable)
		return
	}

	// Confirm the analysis exists before querying Prometheus.
	if _, err := s.store.GetAnalysis(r.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			http.Error(w, "Analysis not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load analysis %d: %v", id, err)
		http.Error(w, "Failed to load analysis", http.StatusInternalServerError)
		return
	}

	usage, err := s.usage.GetAnalysisUsage(r.Context(), strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.Error("failed to query usage for analysis %d: %v", id, err)
		http.Error(w, "Failed to query usage", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

// handleHealth implements GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}
