package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelworks/triage/internal/models"
)

// DiagnosisInput carries the context handed to the model when choosing
// a root cause.
type DiagnosisInput struct {
	IssuesText    string
	Stages        string
	Systemic      bool
	KnowledgeText string
}

// diagnosisResult is the wire shape the model is asked to return. The
// confidence pointer distinguishes a missing field from an explicit 0.
type diagnosisResult struct {
	RootCause  string   `json:"root_cause"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

const diagnosisSystem = `You are a support agent diagnosing an e-commerce migration issue. Return ONLY a JSON object with these fields:
- "root_cause": exactly one of "merchant_misconfiguration", "documentation_gap", "platform_regression", "unknown"
- "confidence": a number between 0.0 and 1.0 (0.9+ clear match to a known pattern, 0.7-0.9 good evidence, 0.5-0.7 uncertain, below 0.5 guessing)
- "reasoning": brief explanation of the diagnosis

Return valid JSON only, no markdown fencing or explanation.`

func buildDiagnosisPrompt(in DiagnosisInput) string {
	var sb strings.Builder
	sb.WriteString("OBSERVED ISSUES:\n")
	sb.WriteString(in.IssuesText)
	sb.WriteString("\n\nMIGRATION STAGES AFFECTED: ")
	sb.WriteString(in.Stages)
	sb.WriteString(fmt.Sprintf("\nIS SYSTEMIC (multiple merchants/similar issues): %v\n", in.Systemic))
	sb.WriteString("\nRELEVANT KNOWLEDGE:\n")
	if in.KnowledgeText != "" {
		sb.WriteString(in.KnowledgeText)
	} else {
		sb.WriteString("No relevant knowledge found")
	}
	return sb.String()
}

// Diagnose asks the generator to choose exactly one root cause with a
// confidence value. Parse and construction failures propagate to the
// caller, which falls back to an unknown diagnosis.
func Diagnose(ctx context.Context, g Generator, in DiagnosisInput) (*models.Diagnosis, error) {
	raw, err := g.Generate(ctx, diagnosisSystem, buildDiagnosisPrompt(in))
	if err != nil {
		return nil, err
	}

	var result diagnosisResult
	if err := json.Unmarshal([]byte(StripFences(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse diagnosis response as JSON: %w", err)
	}

	cause := models.RootCause(result.RootCause)
	switch cause {
	case models.CauseMerchantMisconfiguration, models.CauseDocumentationGap,
		models.CausePlatformRegression, models.CauseUnknown:
	default:
		cause = models.CauseUnknown
	}

	confidence := 0.5
	if result.Confidence != nil {
		confidence = *result.Confidence
	}

	return models.NewDiagnosis(cause, confidence, result.Reasoning, nil)
}

// DraftInput carries the context for drafting the proposed action text.
type DraftInput struct {
	Action       models.ActionType
	IssueSummary string
	RootCause    models.RootCause
	Knowledge    string
}

const setupSystem = `Generate step-by-step setup instructions for a merchant to fix an issue. Provide clear, numbered steps. Be specific and actionable.`

const escalationSystem = `Draft an engineering escalation for a platform issue. Include: Summary, Impact, Recommended Investigation Steps.`

const supportSystem = `Draft a support response for a reported issue. Be helpful, acknowledge the issue, and provide next steps.`

// DraftTemplate returns the system prompt and target audience for an
// action type.
func DraftTemplate(action models.ActionType) (system, audience string) {
	switch action {
	case models.ActionSetupInstructions:
		return setupSystem, "merchant"
	case models.ActionEscalate:
		return escalationSystem, "engineering"
	default:
		return supportSystem, "support"
	}
}

// Draft generates the action content for the selected template.
func Draft(ctx context.Context, g Generator, in DraftInput) (*models.ProposedAction, error) {
	system, audience := DraftTemplate(in.Action)

	var sb strings.Builder
	sb.WriteString("Issue: ")
	sb.WriteString(in.IssueSummary)
	sb.WriteString("\nRoot Cause: ")
	sb.WriteString(string(in.RootCause))
	sb.WriteString("\nReference:\n")
	if in.Knowledge != "" {
		sb.WriteString(in.Knowledge)
	} else {
		sb.WriteString("No additional context.")
	}

	draft, err := g.Generate(ctx, system, sb.String())
	if err != nil {
		return nil, err
	}

	return &models.ProposedAction{
		Type:     in.Action,
		Draft:    strings.TrimSpace(draft),
		Audience: audience,
	}, nil
}
