package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a triage session. Transitions are
// monotonic along the step order, except the jump to failed which is
// allowed from any non-terminal state.
type Status string

const (
	StatusObserving        Status = "observing"
	StatusClustering       Status = "clustering"
	StatusSearching        Status = "searching"
	StatusDiagnosing       Status = "diagnosing"
	StatusAssessing        Status = "assessing"
	StatusDeciding         Status = "deciding"
	StatusActing           Status = "acting"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusDispatched       Status = "dispatched"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDispatched || s == StatusFailed
}

// RootCause is the closed set of diagnosis classifications.
type RootCause string

const (
	CauseMerchantMisconfiguration RootCause = "merchant_misconfiguration"
	CauseDocumentationGap         RootCause = "documentation_gap"
	CausePlatformRegression       RootCause = "platform_regression"
	CauseUnknown                  RootCause = "unknown"
)

// RiskLevel grades the impact if the chosen action is wrong.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionType is the closed set of actions the agent can propose.
type ActionType string

const (
	ActionSetupInstructions ActionType = "provide_setup_instructions"
	ActionSupportResponse   ActionType = "draft_support_response"
	ActionEscalate          ActionType = "escalate_to_engineering"
	ActionHumanReview       ActionType = "request_human_review"
)

// ClientFacing reports whether the action delivers content to the
// merchant or support side and therefore needs a dispatch step.
func (a ActionType) ClientFacing() bool {
	return a == ActionSetupInstructions || a == ActionSupportResponse
}

// ApprovalStatus tracks the human decision on a session's proposed action.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Diagnosis is one root-cause classification with confidence in [0,1].
type Diagnosis struct {
	RootCause  RootCause `json:"root_cause"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Evidence   []string  `json:"supporting_evidence,omitempty"`
}

// NewDiagnosis constructs a Diagnosis, rejecting confidence outside [0,1].
func NewDiagnosis(cause RootCause, confidence float64, reasoning string, evidence []string) (*Diagnosis, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("diagnosis confidence %v outside [0,1]", confidence)
	}
	return &Diagnosis{RootCause: cause, Confidence: confidence, Reasoning: reasoning, Evidence: evidence}, nil
}

// RiskAssessment is the independent impact-if-wrong evaluation.
type RiskAssessment struct {
	Level           RiskLevel `json:"risk_level"`
	Score           int       `json:"score"`
	MerchantCount   int       `json:"affected_merchants_count"`
	AffectsCheckout bool      `json:"affects_checkout"`
	AffectsRevenue  bool      `json:"affects_revenue"`
	Reasoning       string    `json:"reasoning"`
}

// ProposedAction is the drafted response awaiting (or cleared of) approval.
type ProposedAction struct {
	Type     ActionType `json:"action_type"`
	Draft    string     `json:"draft_content"`
	Audience string     `json:"target_audience"` // "merchant", "engineering", "support"
	Steps    []string   `json:"steps,omitempty"`
}

// KnowledgeHit is one retrieved document used as diagnostic context.
type KnowledgeHit struct {
	Content   string         `json:"content"`
	Partition string         `json:"partition"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Relevance float64        `json:"relevance_score"`
}

// Session is the full accumulated state of one triage run. Owned by the
// workflow engine; mutated only by step functions; never deleted, only
// marked terminal.
type Session struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Inputs
	Tickets       []Ticket      `json:"tickets,omitempty"`
	Errors        []ErrorReport `json:"errors,omitempty"`
	ClientMessage string        `json:"client_message,omitempty"`

	// Step 1: observe
	Issues []Issue `json:"issues,omitempty"`

	// Step 2: cluster
	Clusters        []Cluster `json:"clusters,omitempty"`
	Systemic        bool      `json:"is_systemic"`
	VolumeSpike     bool      `json:"volume_spike"`
	SpikeCount      int       `json:"spike_count"`
	AbnormalPattern bool      `json:"abnormal_pattern"`

	// Step 3: search
	Knowledge []KnowledgeHit `json:"knowledge,omitempty"`

	// Steps 4-5
	Diagnosis *Diagnosis      `json:"diagnosis,omitempty"`
	Risk      *RiskAssessment `json:"risk_assessment,omitempty"`

	// Step 6: decide
	Action           ActionType `json:"action_type,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
	ApprovalReason   string     `json:"approval_reason,omitempty"`
	Emergency        bool       `json:"is_emergency"`
	AutoFix          bool       `json:"is_autofix"`

	// Step 7: act
	Proposed *ProposedAction `json:"proposed_action,omitempty"`

	// Step 8: explain
	Explanation string `json:"explanation,omitempty"`

	// Step 9: approval
	Approval     ApprovalStatus `json:"approval_status"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`

	// Step 10: learn
	LearningCandidate bool `json:"is_learning_candidate"`

	// Fatal error detail when Status is failed.
	Error string `json:"error,omitempty"`
}

// DominantCluster returns the cluster with the most issues, or nil when
// no clusters exist. Ties keep the earliest cluster.
func (s *Session) DominantCluster() *Cluster {
	var dom *Cluster
	for i := range s.Clusters {
		if dom == nil || len(s.Clusters[i].Issues) > len(dom.Issues) {
			dom = &s.Clusters[i]
		}
	}
	return dom
}

// Resolution returns the client-deliverable text for a terminal session,
// or empty if none was drafted.
func (s *Session) Resolution() string {
	if s.Proposed == nil {
		return ""
	}
	return s.Proposed.Draft
}
