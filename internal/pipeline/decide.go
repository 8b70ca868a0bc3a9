package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/rules"
)

// AssessRisk runs the risk-scoring rule over all clusters. Risk grades
// impact-if-wrong and never reads diagnosis confidence.
func (p *Pipeline) AssessRisk(ctx context.Context, s *models.Session) error {
	if len(s.Clusters) == 0 {
		s.Risk = &models.RiskAssessment{
			Level:     models.RiskLow,
			Reasoning: "No issues to assess",
		}
		return nil
	}

	merchants := make(map[string]bool)
	postMigration := false
	var b strings.Builder
	for _, c := range s.Clusters {
		for _, m := range c.Merchants {
			merchants[m] = true
		}
		for _, st := range c.Stages {
			if st == string(models.StagePostMigration) {
				postMigration = true
			}
		}
		for _, is := range c.Issues {
			b.WriteString(is.Message)
			b.WriteString(" ")
		}
	}

	res := rules.ScoreRisk(rules.RiskInput{
		MerchantCount: len(merchants),
		CombinedText:  b.String(),
		Systemic:      s.Systemic,
		PostMigration: postMigration,
	})

	reasoning := strings.Join(res.Reasons, "; ")
	if reasoning == "" {
		reasoning = "No significant risk factors"
	}

	s.Risk = &models.RiskAssessment{
		Level:           res.Level,
		Score:           res.Score,
		MerchantCount:   len(merchants),
		AffectsCheckout: res.AffectsCheckout,
		AffectsRevenue:  res.AffectsRevenue,
		Reasoning:       reasoning,
	}
	return nil
}

// DecideAction applies the decision policy in priority order: volume
// spike, abnormal pattern, auto-fix eligibility, degraded input,
// root-cause default. First match wins.
func (p *Pipeline) DecideAction(ctx context.Context, s *models.Session) error {
	if s.VolumeSpike {
		s.Action = models.ActionEscalate
		s.RequiresApproval = true
		s.Emergency = true
		s.ApprovalReason = fmt.Sprintf("High-volume spike detected (%d+ similar tickets)", s.SpikeCount)
		return nil
	}

	if s.AbnormalPattern {
		s.Action = models.ActionEscalate
		s.RequiresApproval = true
		s.Emergency = true
		s.ApprovalReason = "Abnormal pattern: post-migration API/webhook failures"
		return nil
	}

	if rules.AutoFixEligible(s.Risk, s.Diagnosis) {
		// Auto-fix deliverables are always merchant/support facing.
		if s.Diagnosis.RootCause == models.CauseMerchantMisconfiguration {
			s.Action = models.ActionSetupInstructions
		} else {
			s.Action = models.ActionSupportResponse
		}
		s.RequiresApproval = false
		s.AutoFix = true
		return nil
	}

	if s.Diagnosis == nil || s.Risk == nil {
		s.Action = models.ActionHumanReview
		s.RequiresApproval = true
		s.ApprovalReason = "Missing diagnosis or risk assessment"
		return nil
	}

	s.Action = actionForCause(s.Diagnosis.RootCause)
	s.RequiresApproval = true
	s.ApprovalReason = approvalReason(s)
	return nil
}

func actionForCause(cause models.RootCause) models.ActionType {
	switch cause {
	case models.CauseMerchantMisconfiguration:
		return models.ActionSetupInstructions
	case models.CauseDocumentationGap:
		return models.ActionSupportResponse
	case models.CausePlatformRegression:
		return models.ActionEscalate
	default:
		return models.ActionHumanReview
	}
}

func approvalReason(s *models.Session) string {
	var reasons []string
	if s.Risk.Level == models.RiskHigh {
		reasons = append(reasons, "High risk")
	}
	if s.Diagnosis.Confidence < rules.AutoFixConfidence {
		reasons = append(reasons, fmt.Sprintf("Low confidence (%.0f%%)", s.Diagnosis.Confidence*100))
	}
	if s.Risk.AffectsCheckout {
		reasons = append(reasons, "Affects checkout")
	}
	if s.Risk.AffectsRevenue {
		reasons = append(reasons, "Affects revenue")
	}
	if len(reasons) == 0 {
		return "Standard review required"
	}
	return strings.Join(reasons, "; ")
}
