package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelworks/triage/internal/knowledge"
	"github.com/sentinelworks/triage/internal/models"
)

// AwaitApproval is the idempotent pause step. It only normalizes the
// waiting state; the actual approval transition arrives through an
// external decision.
func (p *Pipeline) AwaitApproval(ctx context.Context, s *models.Session) error {
	if s.Approval == "" {
		s.Approval = models.ApprovalPending
	}
	return nil
}

// Learn appends a learning record to the incident partition when the
// session is a learning candidate with both a diagnosis and a drafted
// action. Records are append-only; prior entries are never touched.
func (p *Pipeline) Learn(ctx context.Context, s *models.Session) error {
	if !s.LearningCandidate {
		return nil
	}
	if s.Diagnosis == nil || s.Proposed == nil {
		return nil
	}
	if p.know == nil {
		return nil
	}

	issueText := "Unknown issue"
	if len(s.Clusters) > 0 {
		issueText = s.Clusters[0].Representative
	}
	resolution := truncate(s.Proposed.Draft, 500)

	doc := knowledge.Document{
		Content: fmt.Sprintf("Issue: %s\nResolution: %s", issueText, resolution),
		Metadata: map[string]any{
			"issue_type":  string(s.Diagnosis.RootCause),
			"resolution":  resolution,
			"confidence":  s.Diagnosis.Confidence,
			"was_correct": s.Approval == models.ApprovalApproved,
			"learned_at":  time.Now().UTC().Format(time.RFC3339),
			"source":      "learning",
		},
	}

	// A failed append must not fail the session.
	_ = p.know.Append(ctx, doc, knowledge.PartitionIncidents)
	return nil
}

// Learned reports whether Learn would persist a record for this
// session. Used for the learning-events metric.
func Learned(s *models.Session) bool {
	return s.LearningCandidate && s.Diagnosis != nil && s.Proposed != nil
}
