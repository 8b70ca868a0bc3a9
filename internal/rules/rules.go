// Package rules holds the pure scoring functions behind the triage
// pipeline: severity mapping, spike and abnormal-pattern detection,
// greedy similarity clustering, risk scoring, and the auto-fix gate.
package rules

import (
	"strings"

	"github.com/sentinelworks/triage/internal/models"
)

// SpikeThreshold is the number of near-identical issues in one batch
// that flags a volume spike.
const SpikeThreshold = 50

// SimilarityThreshold is the cosine similarity above which a later
// issue is absorbed into an open cluster.
const SimilarityThreshold = 0.70

// AutoFixConfidence is the minimum diagnosis confidence for
// unsupervised action.
const AutoFixConfidence = 0.85

var abnormalKeywords = []string{"webhook", "api", "timeout", "503", "502", "gateway", "connection refused"}

var checkoutKeywords = []string{"checkout", "payment", "cart", "order", "transaction", "stripe", "paypal"}

var revenueKeywords = []string{"revenue", "sales", "money", "billing", "subscription"}

// MapSeverity maps a ticket priority string to an issue severity.
// Unrecognized or missing priorities default to medium.
func MapSeverity(priority string) models.IssueSeverity {
	switch strings.ToLower(priority) {
	case "critical":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "low":
		return models.SeverityLow
	case "medium":
		return models.SeverityMedium
	default:
		return models.SeverityMedium
	}
}

// SpikeKey normalizes an issue message for spike counting: the segment
// before the first colon, lower-cased and capped at 50 characters.
func SpikeKey(message string) string {
	key := message
	if idx := strings.Index(key, ":"); idx >= 0 {
		key = key[:idx]
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if r := []rune(key); len(r) > 50 {
		key = string(r[:50])
	}
	return key
}

// DetectSpike reports whether any normalized message prefix recurs at
// least SpikeThreshold times, and the highest count seen.
func DetectSpike(issues []models.Issue) (bool, int) {
	counts := make(map[string]int)
	max := 0
	for _, is := range issues {
		k := SpikeKey(is.Message)
		counts[k]++
		if counts[k] > max {
			max = counts[k]
		}
	}
	return max >= SpikeThreshold, max
}

// DetectAbnormalPattern flags the combination of a post-migration issue
// with API/webhook failure keywords anywhere in the batch.
func DetectAbnormalPattern(issues []models.Issue) bool {
	postMigration := false
	var b strings.Builder
	for _, is := range issues {
		if is.Stage == models.StagePostMigration {
			postMigration = true
		}
		b.WriteString(strings.ToLower(is.Message))
		b.WriteString(" ")
	}
	if !postMigration {
		return false
	}
	text := b.String()
	for _, kw := range abnormalKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// CosineSimilarity computes the dot product of two vectors. Embedding
// vectors are normalized by the embedding service, so the dot product
// is the cosine similarity.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// GroupBySimilarity performs single-pass greedy clustering: issues are
// taken in order, each unassigned issue opens a group and absorbs every
// later unassigned issue whose similarity to the opener exceeds
// SimilarityThreshold. vectors[i] is the embedding of issues[i].
func GroupBySimilarity(issues []models.Issue, vectors [][]float64) [][]models.Issue {
	var groups [][]models.Issue
	used := make([]bool, len(issues))
	for i := range issues {
		if used[i] {
			continue
		}
		group := []models.Issue{issues[i]}
		used[i] = true
		for j := i + 1; j < len(issues); j++ {
			if used[j] {
				continue
			}
			if CosineSimilarity(vectors[i], vectors[j]) > SimilarityThreshold {
				group = append(group, issues[j])
				used[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// SystemicCluster reports whether a cluster affects more than an
// isolated case: a flagged volume spike, more than one distinct
// merchant, or more than two issues.
func SystemicCluster(volumeSpike bool, merchantCount, issueCount int) bool {
	return volumeSpike || merchantCount > 1 || issueCount > 2
}

// RiskInput is the complete set of facts risk scoring depends on. Risk
// is deliberately independent of diagnosis confidence: it grades
// impact-if-wrong, not correctness.
type RiskInput struct {
	MerchantCount int
	CombinedText  string
	Systemic      bool
	PostMigration bool
}

// RiskResult is the deterministic outcome of ScoreRisk.
type RiskResult struct {
	Level           models.RiskLevel
	Score           int
	AffectsCheckout bool
	AffectsRevenue  bool
	Reasons         []string
}

// ScoreRisk computes the additive risk score and maps it to a level:
// score >= 4 is high, >= 2 medium, else low.
func ScoreRisk(in RiskInput) RiskResult {
	text := strings.ToLower(in.CombinedText)
	res := RiskResult{
		AffectsCheckout: containsAny(text, checkoutKeywords),
		AffectsRevenue:  containsAny(text, revenueKeywords),
	}

	if in.MerchantCount > 5 {
		res.Score += 3
		res.Reasons = append(res.Reasons, "many merchants affected")
	} else if in.MerchantCount > 1 {
		res.Score++
		res.Reasons = append(res.Reasons, "multiple merchants affected")
	}
	if res.AffectsCheckout {
		res.Score += 3
		res.Reasons = append(res.Reasons, "affects checkout flow")
	}
	if res.AffectsRevenue {
		res.Score += 3
		res.Reasons = append(res.Reasons, "affects revenue")
	}
	if in.Systemic {
		res.Score += 2
		res.Reasons = append(res.Reasons, "systemic issue pattern")
	}
	if in.PostMigration {
		res.Score++
		res.Reasons = append(res.Reasons, "post-migration live environment")
	}

	switch {
	case res.Score >= 4:
		res.Level = models.RiskHigh
	case res.Score >= 2:
		res.Level = models.RiskMedium
	default:
		res.Level = models.RiskLow
	}
	return res
}

// AutoFixEligible is the gate for unsupervised action: low risk, high
// diagnosis confidence, and no checkout or revenue impact. Every
// condition must hold.
func AutoFixEligible(risk *models.RiskAssessment, diagnosis *models.Diagnosis) bool {
	if risk == nil || diagnosis == nil {
		return false
	}
	return risk.Level == models.RiskLow &&
		diagnosis.Confidence >= AutoFixConfidence &&
		!risk.AffectsCheckout &&
		!risk.AffectsRevenue
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
