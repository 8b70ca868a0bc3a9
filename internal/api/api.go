// Package api exposes the triage service over HTTP. The transport is
// deliberately thin: decode, delegate, encode.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/store"
	"github.com/sentinelworks/triage/internal/triage"
)

// Server provides the REST API handlers.
type Server struct {
	svc *triage.Service
	log *slog.Logger
}

// NewServer creates a new API server.
func NewServer(svc *triage.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, log: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/analyze", s.analyze)
	mux.HandleFunc("POST /api/v1/signals", s.submitSignal)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", s.sessionStatus)

	mux.HandleFunc("GET /api/v1/approvals", s.listApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/decision", s.decideApproval)

	mux.HandleFunc("GET /api/v1/metrics", s.metrics)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req triage.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.svc.Analyze(r.Context(), req)
	if err != nil {
		if errors.Is(err, triage.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("analyze failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) submitSignal(w http.ResponseWriter, r *http.Request) {
	var in triage.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.svc.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, triage.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "received",
		"session_id": id,
	})
}

// sessionSummary is the reviewer-facing session view.
type sessionSummary struct {
	SessionID        string                 `json:"session_id"`
	Status           models.Status          `json:"status"`
	Systemic         bool                   `json:"is_systemic"`
	RequiresApproval bool                   `json:"requires_approval"`
	ApprovalStatus   models.ApprovalStatus  `json:"approval_status"`
	Diagnosis        *models.Diagnosis      `json:"diagnosis,omitempty"`
	Risk             *models.RiskAssessment `json:"risk,omitempty"`
	Explanation      string                 `json:"explanation,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

func summarize(sess *models.Session) sessionSummary {
	return sessionSummary{
		SessionID:        sess.ID,
		Status:           sess.Status,
		Systemic:         sess.Systemic,
		RequiresApproval: sess.RequiresApproval,
		ApprovalStatus:   sess.Approval,
		Diagnosis:        sess.Diagnosis,
		Risk:             sess.Risk,
		Explanation:      sess.Explanation,
		Error:            sess.Error,
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.svc.RecentSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, summarize(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(sess))
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// approvalView is the queue entry with enough context for a reviewer.
type approvalView struct {
	ID           string                `json:"id"`
	SessionID    string                `json:"session_id"`
	ActionType   string                `json:"action_type,omitempty"`
	DraftExcerpt string                `json:"draft_excerpt,omitempty"`
	Audience     string                `json:"target_audience,omitempty"`
	RootCause    string                `json:"root_cause,omitempty"`
	Confidence   float64               `json:"confidence"`
	Risk         string                `json:"risk,omitempty"`
	Explanation  string                `json:"explanation,omitempty"`
	Status       models.ApprovalStatus `json:"status"`
	CreatedAt    string                `json:"created_at"`
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.svc.PendingApprovals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]approvalView, 0, len(reqs))
	for _, req := range reqs {
		v := approvalView{
			ID:          req.ID,
			SessionID:   req.SessionID,
			Explanation: req.Explanation,
			Status:      req.Status,
			CreatedAt:   req.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if req.Proposed != nil {
			v.ActionType = string(req.Proposed.Type)
			v.DraftExcerpt = excerpt(req.Proposed.Draft, 500)
			v.Audience = req.Proposed.Audience
		}
		if req.Diagnosis != nil {
			v.RootCause = string(req.Diagnosis.RootCause)
			v.Confidence = req.Diagnosis.Confidence
		}
		if req.Risk != nil {
			v.Risk = string(req.Risk.Level)
		}
		items = append(items, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending_count": len(items),
		"items":         items,
	})
}

type decisionRequest struct {
	Approved         bool   `json:"approved"`
	ReviewerNotes    string `json:"reviewer_notes"`
	ActualResolution string `json:"actual_resolution"`
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.svc.Decide(r.Context(), r.PathValue("id"), req.Approved, req.ReviewerNotes, req.ActualResolution)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyResolved) {
			writeError(w, http.StatusNotFound, "approval request not found or already resolved")
			return
		}
		s.log.Error("approval decision failed", "approval_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Metrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
