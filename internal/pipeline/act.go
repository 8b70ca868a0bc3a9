package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelworks/triage/internal/llm"
	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/rules"
)

// Act drafts the proposed action content. Drafting happens only with
// explicit permission: auto-fix eligibility, an emergency escalation,
// or an already-granted approval. Otherwise the step leaves the
// session unchanged and the draft is produced after approval.
func (p *Pipeline) Act(ctx context.Context, s *models.Session) error {
	if s.RequiresApproval && !s.Emergency && s.Approval != models.ApprovalApproved {
		return nil
	}

	if s.Action == "" || s.Diagnosis == nil {
		s.Proposed = &models.ProposedAction{
			Type:     models.ActionHumanReview,
			Draft:    "Unable to generate action - missing diagnosis.",
			Audience: "support",
		}
		return nil
	}

	summary := "No specific issue identified"
	if dom := s.DominantCluster(); dom != nil {
		summary = truncate(dom.Representative, 500)
	}

	var knowledgeLines []string
	for i, hit := range s.Knowledge {
		if i == 2 {
			break
		}
		knowledgeLines = append(knowledgeLines, truncate(hit.Content, 200))
	}

	in := llm.DraftInput{
		Action:       s.Action,
		IssueSummary: summary,
		RootCause:    s.Diagnosis.RootCause,
		Knowledge:    strings.Join(knowledgeLines, "\n"),
	}

	proposed, err := draftWith(ctx, p.gen, in)
	if err != nil {
		_, audience := llm.DraftTemplate(s.Action)
		proposed = &models.ProposedAction{
			Type:     s.Action,
			Draft:    "Error generating draft: " + err.Error(),
			Audience: audience,
		}
	}

	s.Proposed = proposed
	return nil
}

func draftWith(ctx context.Context, gen llm.Generator, in llm.DraftInput) (*models.ProposedAction, error) {
	if gen == nil {
		return nil, errNoGenerator
	}
	return llm.Draft(ctx, gen, in)
}

// Explain assembles the human-readable rationale: observed patterns,
// knowledge used, diagnosis, risk, chosen action, and an uncertainty
// notice below 85% confidence. Sessions below 70% confidence become
// learning candidates.
func (p *Pipeline) Explain(ctx context.Context, s *models.Session) error {
	var parts []string

	if dom := s.DominantCluster(); dom != nil {
		total := 0
		for _, c := range s.Clusters {
			total += len(c.Issues)
		}
		merchants := "Unknown"
		if len(dom.Merchants) > 0 {
			merchants = strings.Join(dom.Merchants, ", ")
		}
		parts = append(parts, fmt.Sprintf(`## Patterns Observed
- Total issues analyzed: %d
- Clusters identified: %d
- Is systemic issue: %v
- Affected merchants: %s
- Migration stages: %s`,
			total, len(s.Clusters), s.Systemic, merchants, strings.Join(dom.Stages, ", ")))
	}

	if len(s.Knowledge) > 0 {
		seen := make(map[string]bool)
		var sources []string
		for _, hit := range s.Knowledge {
			if !seen[hit.Partition] {
				seen[hit.Partition] = true
				sources = append(sources, hit.Partition)
			}
		}
		parts = append(parts, fmt.Sprintf(`## Knowledge Used
- Sources consulted: %s
- Relevant documents found: %d`,
			strings.Join(sources, ", "), len(s.Knowledge)))
	}

	if s.Diagnosis != nil {
		parts = append(parts, fmt.Sprintf(`## Root Cause Diagnosis
- Identified cause: %s
- Confidence: %.0f%%
- Reasoning: %s`,
			s.Diagnosis.RootCause, s.Diagnosis.Confidence*100, s.Diagnosis.Reasoning))
	}

	if s.Risk != nil {
		parts = append(parts, fmt.Sprintf(`## Risk Assessment
- Risk level: %s
- Affects checkout: %v
- Affects revenue: %v
- Reasoning: %s`,
			s.Risk.Level, s.Risk.AffectsCheckout, s.Risk.AffectsRevenue, s.Risk.Reasoning))
	}

	if s.Action != "" {
		reason := "Low risk and high confidence"
		if s.RequiresApproval {
			reason = s.ApprovalReason
			if reason == "" {
				reason = "Risk is high or confidence below 85%"
			}
		}
		parts = append(parts, fmt.Sprintf(`## Chosen Action
- Action type: %s
- Requires human approval: %v
- Reason: %s`,
			s.Action, s.RequiresApproval, reason))
	}

	if s.Diagnosis != nil && s.Diagnosis.Confidence < rules.AutoFixConfidence {
		parts = append(parts, fmt.Sprintf(`## Uncertainty Notice
Confidence is below 85%% (%.0f%%). This indicates:
- Multiple possible causes may exist
- Additional information might be needed
- Human review is recommended before action`,
			s.Diagnosis.Confidence*100))
	}

	s.Explanation = strings.Join(parts, "\n\n")
	s.LearningCandidate = s.Diagnosis != nil && s.Diagnosis.Confidence < 0.70
	return nil
}
