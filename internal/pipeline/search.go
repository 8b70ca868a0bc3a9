package pipeline

import (
	"context"
	"strings"

	"github.com/sentinelworks/triage/internal/knowledge"
	"github.com/sentinelworks/triage/internal/llm"
	"github.com/sentinelworks/triage/internal/models"
)

var searchPartitions = []string{
	knowledge.PartitionDocs,
	knowledge.PartitionErrorPatterns,
	knowledge.PartitionIncidents,
}

// SearchKnowledge queries the three knowledge partitions with the
// dominant cluster's representative text, collecting up to 3 hits per
// partition. A failing or missing partition is skipped silently.
func (p *Pipeline) SearchKnowledge(ctx context.Context, s *models.Session) error {
	dom := s.DominantCluster()
	if dom == nil || p.know == nil {
		s.Knowledge = nil
		return nil
	}

	var hits []models.KnowledgeHit
	for _, partition := range searchPartitions {
		docs, err := p.know.Search(ctx, dom.Representative, partition, 3)
		if err != nil {
			continue
		}
		for _, doc := range docs {
			hits = append(hits, models.KnowledgeHit{
				Content:   doc.Content,
				Partition: partition,
				Metadata:  doc.Metadata,
				Relevance: doc.Relevance,
			})
		}
	}
	s.Knowledge = hits
	return nil
}

// Diagnose asks the text-generation collaborator to pick one root
// cause with a confidence value. Any call or parse failure falls back
// to an unknown diagnosis at confidence 0.3 with the failure embedded
// in the reasoning.
func (p *Pipeline) Diagnose(ctx context.Context, s *models.Session) error {
	dom := s.DominantCluster()
	if dom == nil {
		s.Diagnosis = &models.Diagnosis{
			RootCause:  models.CauseUnknown,
			Confidence: 0.1,
			Reasoning:  "No issues to diagnose",
		}
		return nil
	}

	var issueLines []string
	for i, is := range dom.Issues {
		if i == 5 {
			break
		}
		issueLines = append(issueLines, is.Message)
	}

	var knowledgeLines []string
	for i, hit := range s.Knowledge {
		if i == 3 {
			break
		}
		knowledgeLines = append(knowledgeLines, truncate(hit.Content, 300))
	}

	in := llm.DiagnosisInput{
		IssuesText:    strings.Join(issueLines, "\n"),
		Stages:        strings.Join(dom.Stages, ", "),
		Systemic:      s.Systemic,
		KnowledgeText: strings.Join(knowledgeLines, "\n"),
	}

	diagnosis, err := diagnoseWith(ctx, p.gen, in)
	if err != nil {
		diagnosis = &models.Diagnosis{
			RootCause:  models.CauseUnknown,
			Confidence: 0.3,
			Reasoning:  "Error during diagnosis: " + err.Error(),
		}
	} else {
		for i, hit := range s.Knowledge {
			if i == 2 {
				break
			}
			diagnosis.Evidence = append(diagnosis.Evidence, truncate(hit.Content, 100))
		}
	}

	s.Diagnosis = diagnosis
	return nil
}

func diagnoseWith(ctx context.Context, gen llm.Generator, in llm.DiagnosisInput) (*models.Diagnosis, error) {
	if gen == nil {
		return nil, errNoGenerator
	}
	return llm.Diagnose(ctx, gen, in)
}
