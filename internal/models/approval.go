package models

import "time"

// ApprovalRequest links a session to the diagnosis/risk/action snapshot
// taken when approval was requested. Terminal once approved or rejected;
// never deleted, it is the audit trail.
type ApprovalRequest struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	Proposed         *ProposedAction `json:"proposed_action,omitempty"`
	Diagnosis        *Diagnosis      `json:"diagnosis,omitempty"`
	Risk             *RiskAssessment `json:"risk_assessment,omitempty"`
	Explanation      string          `json:"explanation,omitempty"`
	Status           ApprovalStatus  `json:"status"`
	ReviewerNotes    string          `json:"reviewer_notes,omitempty"`
	ActualResolution string          `json:"actual_resolution,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// Checkpoint is the durable snapshot of a session's state at a named
// pause point. Overwritten on every step transition; read on resume.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Step      string    `json:"step"`
	State     *Session  `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentOutput is the structured decision summary returned for a
// synchronous analyze call.
type AgentOutput struct {
	SessionID        string   `json:"session_id"`
	ObservedPattern  string   `json:"observed_pattern"`
	RootCause        string   `json:"root_cause"`
	Confidence       float64  `json:"confidence"`
	Risk             string   `json:"risk"`
	RecommendedText  string   `json:"recommended_action"`
	RequiresApproval bool     `json:"requires_human_approval"`
	Explanation      string   `json:"explanation"`
	LearningFlag     bool     `json:"learning_candidate"`
	SourcesUsed      []string `json:"sources_used"`
}

// Metrics aggregates triage outcomes.
type Metrics struct {
	TotalSessions    int     `json:"total_sessions"`
	AutoResolved     int     `json:"auto_resolved_count"`
	HumanEscalated   int     `json:"human_escalated_count"`
	LearningEvents   int     `json:"learning_events_count"`
	FailedSessions   int     `json:"failed_sessions"`
	Dispatched       int     `json:"dispatched_count"`
	PendingApprovals int     `json:"pending_approvals"`
	SuccessRate      float64 `json:"success_rate"`
}
