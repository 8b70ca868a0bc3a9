package models

import "time"

// IssueSeverity represents how serious a normalized issue is.
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// MigrationStage tags where a merchant is in their migration lifecycle.
type MigrationStage string

const (
	StagePreMigration  MigrationStage = "pre-migration"
	StageMidMigration  MigrationStage = "mid-migration"
	StagePostMigration MigrationStage = "post-migration"
	StageUnknown       MigrationStage = "unknown"
)

// ValidStage reports whether s is a recognized migration stage.
func ValidStage(s MigrationStage) bool {
	switch s {
	case StagePreMigration, StageMidMigration, StagePostMigration, StageUnknown:
		return true
	}
	return false
}

// Ticket is a support ticket submitted by or on behalf of a merchant.
type Ticket struct {
	ID          string         `json:"id"`
	MerchantID  string         `json:"merchant_id"`
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	Stage       MigrationStage `json:"migration_stage"`
	Priority    string         `json:"priority"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ErrorReport is a single error captured from logs or a live site.
type ErrorReport struct {
	ID         string         `json:"id"`
	MerchantID string         `json:"merchant_id,omitempty"`
	Code       string         `json:"error_code"`
	Message    string         `json:"error_message"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Stage      MigrationStage `json:"migration_stage"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    map[string]any `json:"context,omitempty"`
}

// Issue is the normalized unit of reported trouble derived from one ticket
// or one error report. Immutable once created.
type Issue struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"` // "ticket" or "error"
	Message    string         `json:"message"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Severity   IssueSeverity  `json:"severity"`
	Stage      MigrationStage `json:"migration_stage"`
	MerchantID string         `json:"merchant_id,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
	Context    map[string]any `json:"context,omitempty"`
}

// Cluster groups issues judged similar enough to treat as one problem.
// Created once per analysis pass; never mutated.
type Cluster struct {
	ID              string   `json:"id"`
	Issues          []Issue  `json:"issues"`
	Representative  string   `json:"representative_text"`
	Stages          []string `json:"migration_stages"`
	Merchants       []string `json:"affected_merchants"`
	Systemic        bool     `json:"is_systemic"`
	SimilarityScore float64  `json:"similarity_score"`
}
