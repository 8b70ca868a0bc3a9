package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sentinelworks/triage/internal/store"
	"github.com/sentinelworks/triage/internal/triage"
)

// Server wraps the triage service and exposes it as MCP tools, so a
// reviewer's assistant can work the approval queue conversationally.
type Server struct {
	svc *triage.Service
}

// NewServer creates the MCP server wrapper.
func NewServer(svc *triage.Service) *Server {
	return &Server{svc: svc}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("triage", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.queueTool())
	srv.AddTool(s.decideTool())
	srv.AddTool(s.sessionTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.submitTool())
	srv.AddTool(s.metricsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// triage_queue
func (s *Server) queueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_queue",
		mcp.WithDescription("List approval requests awaiting a reviewer decision. Each entry has an approval id, the session id, the proposed action with its draft, the diagnosed root cause with confidence, and the risk level."),
	)
	return tool, s.handleQueue
}

func (s *Server) handleQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqs, err := s.svc.PendingApprovals(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list approvals: %v", err)), nil
	}

	type queueOut struct {
		ID         string  `json:"id"`
		SessionID  string  `json:"session_id"`
		ActionType string  `json:"action_type,omitempty"`
		Draft      string  `json:"draft,omitempty"`
		RootCause  string  `json:"root_cause,omitempty"`
		Confidence float64 `json:"confidence"`
		Risk       string  `json:"risk,omitempty"`
		CreatedAt  string  `json:"created_at"`
	}

	out := make([]queueOut, len(reqs))
	for i, req := range reqs {
		out[i] = queueOut{
			ID:        req.ID,
			SessionID: req.SessionID,
			CreatedAt: req.CreatedAt.Format(time.RFC3339),
		}
		if req.Proposed != nil {
			out[i].ActionType = string(req.Proposed.Type)
			out[i].Draft = req.Proposed.Draft
		}
		if req.Diagnosis != nil {
			out[i].RootCause = string(req.Diagnosis.RootCause)
			out[i].Confidence = req.Diagnosis.Confidence
		}
		if req.Risk != nil {
			out[i].Risk = string(req.Risk.Level)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal queue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// triage_decide
func (s *Server) decideTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_decide",
		mcp.WithDescription("Approve or reject a pending approval request. Approval resumes the session and dispatches or completes it; rejection terminates it. The first decision wins."),
		mcp.WithString("approval_id", mcp.Required(), mcp.Description("Approval request ID")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("Either 'approve' or 'reject'")),
		mcp.WithString("notes", mcp.Description("Reviewer notes to attach to the decision")),
		mcp.WithString("actual_resolution", mcp.Description("What actually resolved the issue, if different from the proposal")),
	)
	return tool, s.handleDecide
}

func (s *Server) handleDecide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID, err := request.RequireString("approval_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: approval_id"), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}

	var approved bool
	switch decision {
	case "approve":
		approved = true
	case "reject":
		approved = false
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid decision: %s (must be approve or reject)", decision)), nil
	}

	notes := request.GetString("notes", "")
	actual := request.GetString("actual_resolution", "")

	sess, err := s.svc.Decide(ctx, approvalID, approved, notes, actual)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyResolved) {
			return mcp.NewToolResultError(fmt.Sprintf("approval not found or already resolved: %s", approvalID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("decision failed: %v", err)), nil
	}

	result := map[string]any{
		"session_id": sess.ID,
		"status":     string(sess.Status),
		"approved":   approved,
	}
	data, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(data)), nil
}

// triage_session
func (s *Server) sessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_session",
		mcp.WithDescription("Get the full state of a triage session: status, diagnosis, risk assessment, proposed action, and the reviewer-facing explanation."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleSession
}

func (s *Server) handleSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.svc.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}

	result := map[string]any{
		"session_id":        sess.ID,
		"status":            string(sess.Status),
		"is_systemic":       sess.Systemic,
		"requires_approval": sess.RequiresApproval,
		"approval_status":   string(sess.Approval),
		"explanation":       sess.Explanation,
	}
	if sess.Diagnosis != nil {
		result["diagnosis"] = map[string]any{
			"root_cause": string(sess.Diagnosis.RootCause),
			"confidence": sess.Diagnosis.Confidence,
			"reasoning":  sess.Diagnosis.Reasoning,
		}
	}
	if sess.Risk != nil {
		result["risk"] = map[string]any{
			"level":     string(sess.Risk.Level),
			"reasoning": sess.Risk.Reasoning,
		}
	}
	if sess.Proposed != nil {
		result["proposed_action"] = map[string]any{
			"type":            string(sess.Proposed.Type),
			"draft":           sess.Proposed.Draft,
			"target_audience": sess.Proposed.Audience,
		}
	}
	if sess.Error != "" {
		result["error"] = sess.Error
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// triage_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_list_sessions",
		mcp.WithDescription("List recent triage sessions with their status and diagnosis summary."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (default 10)")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 10))

	sessions, err := s.svc.RecentSessions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID         string  `json:"id"`
		Status     string  `json:"status"`
		RootCause  string  `json:"root_cause,omitempty"`
		Confidence float64 `json:"confidence,omitempty"`
		Systemic   bool    `json:"is_systemic"`
		CreatedAt  string  `json:"created_at"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:        sess.ID,
			Status:    string(sess.Status),
			Systemic:  sess.Systemic,
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		}
		if sess.Diagnosis != nil {
			out[i].RootCause = string(sess.Diagnosis.RootCause)
			out[i].Confidence = sess.Diagnosis.Confidence
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// triage_submit_signal
func (s *Server) submitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_submit_signal",
		mcp.WithDescription("Submit a single issue signal for asynchronous triage. Returns the session id; poll triage_session for progress."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The issue description or error message")),
		mcp.WithString("merchant_id", mcp.Description("Affected merchant identifier")),
		mcp.WithString("migration_stage", mcp.Description("Migration stage: pre-migration, mid-migration, post-migration, unknown (default post-migration)")),
	)
	return tool, s.handleSubmit
}

func (s *Server) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	id, err := s.svc.Submit(ctx, triage.SubmitInput{
		Message:    message,
		MerchantID: request.GetString("merchant_id", ""),
		Stage:      request.GetString("migration_stage", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}

	data, _ := json.Marshal(map[string]string{"session_id": id, "status": "received"})
	return mcp.NewToolResultText(string(data)), nil
}

// triage_metrics
func (s *Server) metricsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_metrics",
		mcp.WithDescription("Get aggregate triage metrics: total sessions, auto-resolved, escalated, dispatched, failed, learning events, pending approvals, and the auto-resolution rate."),
	)
	return tool, s.handleMetrics
}

func (s *Server) handleMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.svc.Metrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to gather metrics: %v", err)), nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal metrics: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
