package pipeline

import (
	"context"
	"fmt"

	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/rules"
)

// Observe normalizes raw tickets and error reports into Issues.
func (p *Pipeline) Observe(ctx context.Context, s *models.Session) error {
	var issues []models.Issue

	for _, t := range s.Tickets {
		ctx := map[string]any{
			"source":  "ticket",
			"subject": t.Subject,
		}
		if len(t.Metadata) > 0 {
			ctx["metadata"] = t.Metadata
		}
		issues = append(issues, models.Issue{
			ID:         fmt.Sprintf("issue_%s", t.ID),
			Source:     "ticket",
			Message:    fmt.Sprintf("%s: %s", t.Subject, t.Description),
			Severity:   rules.MapSeverity(t.Priority),
			Stage:      t.Stage,
			MerchantID: t.MerchantID,
			DetectedAt: t.Timestamp,
			Context:    ctx,
		})
	}

	for _, e := range s.Errors {
		ctx := map[string]any{
			"source":     "error_log",
			"error_code": e.Code,
		}
		if e.Endpoint != "" {
			ctx["endpoint"] = e.Endpoint
		}
		for k, v := range e.Context {
			ctx[k] = v
		}
		issues = append(issues, models.Issue{
			ID:         fmt.Sprintf("issue_%s", e.ID),
			Source:     "error",
			Message:    e.Message,
			StackTrace: e.StackTrace,
			Severity:   models.SeverityMedium,
			Stage:      e.Stage,
			MerchantID: e.MerchantID,
			DetectedAt: e.Timestamp,
			Context:    ctx,
		})
	}

	s.Issues = issues
	return nil
}
