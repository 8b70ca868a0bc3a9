package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/rules"
)

// Cluster groups the observed issues by embedding similarity and sets
// the systemic, spike, and abnormal-pattern flags.
func (p *Pipeline) Cluster(ctx context.Context, s *models.Session) error {
	issues := s.Issues

	if len(issues) == 0 {
		s.Clusters = nil
		s.Systemic = false
		s.VolumeSpike = false
		s.AbnormalPattern = false
		return nil
	}

	s.AbnormalPattern = rules.DetectAbnormalPattern(issues)

	if len(issues) == 1 {
		s.Clusters = []models.Cluster{buildCluster(issues, false, 1.0)}
		s.Systemic = false
		s.VolumeSpike = false
		return nil
	}

	spike, spikeCount := rules.DetectSpike(issues)
	s.VolumeSpike = spike
	s.SpikeCount = spikeCount

	groups := p.groupIssues(ctx, issues)

	score := 0.7
	if spike {
		score = 0.9
	}

	merchants := make(map[string]bool)
	var clusters []models.Cluster
	for _, group := range groups {
		c := buildCluster(group, false, score)
		c.Systemic = rules.SystemicCluster(spike, len(c.Merchants), len(c.Issues))
		clusters = append(clusters, c)
		for _, m := range c.Merchants {
			merchants[m] = true
		}
	}
	s.Clusters = clusters

	systemic := spike || len(merchants) > 1
	for _, c := range clusters {
		if c.Systemic {
			systemic = true
		}
	}
	s.Systemic = systemic
	return nil
}

// groupIssues runs the greedy similarity pass. When the embedding
// collaborator fails, all issues collapse into one group: treating a
// batch as one problem is the safe degradation for triage.
func (p *Pipeline) groupIssues(ctx context.Context, issues []models.Issue) [][]models.Issue {
	if p.embedder == nil {
		return [][]models.Issue{issues}
	}
	texts := make([]string, len(issues))
	for i, is := range issues {
		texts[i] = is.Message
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(issues) {
		return [][]models.Issue{issues}
	}
	return rules.GroupBySimilarity(issues, vectors)
}

func buildCluster(group []models.Issue, systemic bool, score float64) models.Cluster {
	stageSet := make(map[string]bool)
	merchantSet := make(map[string]bool)
	for _, is := range group {
		stageSet[string(is.Stage)] = true
		if is.MerchantID != "" {
			merchantSet[is.MerchantID] = true
		}
	}
	var stages, merchants []string
	for st := range stageSet {
		stages = append(stages, st)
	}
	for m := range merchantSet {
		merchants = append(merchants, m)
	}

	return models.Cluster{
		ID:              newID(),
		Issues:          group,
		Representative:  clusterName(group),
		Stages:          stages,
		Merchants:       merchants,
		Systemic:        systemic,
		SimilarityScore: score,
	}
}

// clusterName derives the representative summary: the first issue's
// ticket subject, then its category, then the leading 50 characters of
// the message.
func clusterName(group []models.Issue) string {
	if len(group) == 0 {
		return "No Issues"
	}
	first := group[0]

	name := issueLabel(first)
	if len(group) > 1 {
		category := contextString(first.Context, "category")
		if category == "" {
			category = metadataString(first.Context, "category")
		}
		if category == "" {
			category = "issues"
		}
		name = fmt.Sprintf("%s (%d tickets)", titleCase(category), len(group))
	}
	return name
}

func issueLabel(is models.Issue) string {
	if subject := contextString(is.Context, "subject"); subject != "" {
		return subject
	}
	if category := contextString(is.Context, "category"); category != "" {
		return fmt.Sprintf("%s Issue", titleCase(category))
	}
	if category := metadataString(is.Context, "category"); category != "" {
		return fmt.Sprintf("%s Issue", titleCase(category))
	}
	if is.Message != "" {
		return truncate(is.Message, 50)
	}
	return "General Migration Issue"
}

func contextString(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}

func metadataString(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	meta, ok := ctx["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
