package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelworks/triage/internal/knowledge"
	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/rules"
)

// ---------------------------------------------------------------------------
// Stub collaborators
// ---------------------------------------------------------------------------

// stubGenerator returns canned responses keyed by system prompt content.
type stubGenerator struct {
	diagnosisJSON string
	draftText     string
	err           error
	calls         int
}

func (g *stubGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if strings.Contains(system, "root_cause") {
		return g.diagnosisJSON, nil
	}
	return g.draftText, nil
}

// stubEmbedder maps known messages to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

// stubKnowledge returns the same hits for every partition.
type stubKnowledge struct {
	docs      []knowledge.Document
	appended  []knowledge.Document
	searchErr error
}

func (k *stubKnowledge) Search(ctx context.Context, query, partition string, n int) ([]knowledge.Document, error) {
	if k.searchErr != nil {
		return nil, k.searchErr
	}
	return k.docs, nil
}

func (k *stubKnowledge) Append(ctx context.Context, doc knowledge.Document, partition string) error {
	doc.Partition = partition
	k.appended = append(k.appended, doc)
	return nil
}

func (k *stubKnowledge) Close() error { return nil }

func goodDiagnosis(cause string, confidence float64) string {
	return fmt.Sprintf(`{"root_cause": %q, "confidence": %v, "reasoning": "matched a known pattern"}`, cause, confidence)
}

// ---------------------------------------------------------------------------
// Observe
// ---------------------------------------------------------------------------

func TestObserve(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Tickets: []models.Ticket{
			{ID: "t1", MerchantID: "m1", Subject: "Checkout broken", Description: "button missing", Priority: "critical", Stage: models.StagePostMigration},
		},
		Errors: []models.ErrorReport{
			{ID: "e1", Code: "500", Message: "Internal server error", Endpoint: "/api/cart", Stage: models.StagePostMigration},
		},
	}

	require.NoError(t, p.Observe(context.Background(), s))
	require.Len(t, s.Issues, 2)

	ticket := s.Issues[0]
	assert.Equal(t, "issue_t1", ticket.ID)
	assert.Equal(t, "ticket", ticket.Source)
	assert.Equal(t, "Checkout broken: button missing", ticket.Message)
	assert.Equal(t, models.SeverityCritical, ticket.Severity)
	assert.Equal(t, "m1", ticket.MerchantID)

	errIssue := s.Issues[1]
	assert.Equal(t, "issue_e1", errIssue.ID)
	assert.Equal(t, "error", errIssue.Source)
	assert.Equal(t, models.SeverityMedium, errIssue.Severity)
	assert.Equal(t, "/api/cart", errIssue.Context["endpoint"])
}

// ---------------------------------------------------------------------------
// Cluster
// ---------------------------------------------------------------------------

func TestCluster_Empty(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{}
	require.NoError(t, p.Cluster(context.Background(), s))
	assert.Empty(t, s.Clusters)
	assert.False(t, s.Systemic)
	assert.False(t, s.VolumeSpike)
	assert.False(t, s.AbnormalPattern)
}

func TestCluster_SingleIssue(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{Issues: []models.Issue{
		{ID: "a", Message: "Webhook failed", Stage: models.StagePostMigration, MerchantID: "m1",
			Context: map[string]any{"subject": "Webhook failed"}},
	}}
	require.NoError(t, p.Cluster(context.Background(), s))

	require.Len(t, s.Clusters, 1)
	assert.Equal(t, "Webhook failed", s.Clusters[0].Representative)
	assert.InDelta(t, 1.0, s.Clusters[0].SimilarityScore, 1e-9)
	assert.False(t, s.Systemic)
	// Abnormal pattern is still computed for single issues
	assert.True(t, s.AbnormalPattern)
}

func TestCluster_SimilarityGroups(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"Webhook failed":    {1, 0, 0},
		"Webhook timed out": {0.95, 0.05, 0},
		"CSS misaligned":    {0, 1, 0},
	}}
	p := New(nil, nil, emb)
	s := &models.Session{Issues: []models.Issue{
		{ID: "a", Message: "Webhook failed", MerchantID: "m1"},
		{ID: "b", Message: "Webhook timed out", MerchantID: "m2"},
		{ID: "c", Message: "CSS misaligned", MerchantID: "m1"},
	}}
	require.NoError(t, p.Cluster(context.Background(), s))

	assert.Len(t, s.Clusters, 2)
	// Two merchants in the first cluster makes the session systemic
	assert.True(t, s.Systemic)
	assert.False(t, s.VolumeSpike)
}

func TestCluster_EmbedderFailureCollapsesToOneGroup(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("endpoint down")}
	p := New(nil, nil, emb)
	s := &models.Session{Issues: []models.Issue{
		{ID: "a", Message: "one", MerchantID: "m1"},
		{ID: "b", Message: "two", MerchantID: "m1"},
	}}
	require.NoError(t, p.Cluster(context.Background(), s))
	assert.Len(t, s.Clusters, 1)
	assert.Len(t, s.Clusters[0].Issues, 2)
}

func TestCluster_VolumeSpike(t *testing.T) {
	p := New(nil, nil, nil)
	issues := make([]models.Issue, rules.SpikeThreshold)
	for i := range issues {
		issues[i] = models.Issue{
			ID:         fmt.Sprintf("i%d", i),
			Message:    fmt.Sprintf("Payment declined: order %d", i),
			MerchantID: "m1",
		}
	}
	s := &models.Session{Issues: issues}
	require.NoError(t, p.Cluster(context.Background(), s))

	assert.True(t, s.VolumeSpike)
	assert.Equal(t, rules.SpikeThreshold, s.SpikeCount)
	assert.True(t, s.Systemic)
	require.NotEmpty(t, s.Clusters)
	assert.InDelta(t, 0.9, s.Clusters[0].SimilarityScore, 1e-9)
}

func TestCluster_MultiIssueName(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{Issues: []models.Issue{
		{ID: "a", Message: "x", Context: map[string]any{"metadata": map[string]any{"category": "webhooks"}}},
		{ID: "b", Message: "y"},
	}}
	require.NoError(t, p.Cluster(context.Background(), s))
	require.Len(t, s.Clusters, 1)
	assert.Equal(t, "Webhooks (2 tickets)", s.Clusters[0].Representative)
}

// ---------------------------------------------------------------------------
// SearchKnowledge / Diagnose
// ---------------------------------------------------------------------------

func TestSearchKnowledge(t *testing.T) {
	know := &stubKnowledge{docs: []knowledge.Document{
		{Content: "Re-register webhooks after migration", Relevance: 0.9},
	}}
	p := New(nil, know, nil)
	s := &models.Session{Clusters: []models.Cluster{{Representative: "Webhook failed", Issues: []models.Issue{{}}}}}

	require.NoError(t, p.SearchKnowledge(context.Background(), s))
	// One hit per partition
	assert.Len(t, s.Knowledge, 3)
	partitions := map[string]bool{}
	for _, h := range s.Knowledge {
		partitions[h.Partition] = true
	}
	assert.Len(t, partitions, 3)
}

func TestSearchKnowledge_ErrorsSkipped(t *testing.T) {
	know := &stubKnowledge{searchErr: errors.New("db locked")}
	p := New(nil, know, nil)
	s := &models.Session{Clusters: []models.Cluster{{Representative: "x", Issues: []models.Issue{{}}}}}
	require.NoError(t, p.SearchKnowledge(context.Background(), s))
	assert.Empty(t, s.Knowledge)
}

func TestDiagnose_Success(t *testing.T) {
	gen := &stubGenerator{diagnosisJSON: goodDiagnosis("merchant_misconfiguration", 0.92)}
	p := New(gen, nil, nil)
	s := &models.Session{
		Clusters:  []models.Cluster{{Representative: "Webhook failed", Issues: []models.Issue{{Message: "Webhook failed"}}}},
		Knowledge: []models.KnowledgeHit{{Content: "known pattern doc", Partition: "knowledge_base"}},
	}

	require.NoError(t, p.Diagnose(context.Background(), s))
	require.NotNil(t, s.Diagnosis)
	assert.Equal(t, models.CauseMerchantMisconfiguration, s.Diagnosis.RootCause)
	assert.InDelta(t, 0.92, s.Diagnosis.Confidence, 1e-9)
	assert.NotEmpty(t, s.Diagnosis.Evidence)
}

func TestDiagnose_NoClusters(t *testing.T) {
	p := New(&stubGenerator{}, nil, nil)
	s := &models.Session{}
	require.NoError(t, p.Diagnose(context.Background(), s))
	require.NotNil(t, s.Diagnosis)
	assert.Equal(t, models.CauseUnknown, s.Diagnosis.RootCause)
	assert.InDelta(t, 0.1, s.Diagnosis.Confidence, 1e-9)
}

func TestDiagnose_GeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("rate limited")}
	p := New(gen, nil, nil)
	s := &models.Session{Clusters: []models.Cluster{{Representative: "x", Issues: []models.Issue{{Message: "x"}}}}}

	require.NoError(t, p.Diagnose(context.Background(), s))
	require.NotNil(t, s.Diagnosis)
	assert.Equal(t, models.CauseUnknown, s.Diagnosis.RootCause)
	assert.InDelta(t, 0.3, s.Diagnosis.Confidence, 1e-9)
	assert.Contains(t, s.Diagnosis.Reasoning, "rate limited")
}

func TestDiagnose_MalformedJSON(t *testing.T) {
	gen := &stubGenerator{diagnosisJSON: "I think it is a webhook problem"}
	p := New(gen, nil, nil)
	s := &models.Session{Clusters: []models.Cluster{{Representative: "x", Issues: []models.Issue{{Message: "x"}}}}}

	require.NoError(t, p.Diagnose(context.Background(), s))
	assert.Equal(t, models.CauseUnknown, s.Diagnosis.RootCause)
	assert.InDelta(t, 0.3, s.Diagnosis.Confidence, 1e-9)
}

func TestDiagnose_NoGenerator(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{Clusters: []models.Cluster{{Representative: "x", Issues: []models.Issue{{Message: "x"}}}}}
	require.NoError(t, p.Diagnose(context.Background(), s))
	assert.Equal(t, models.CauseUnknown, s.Diagnosis.RootCause)
}

// ---------------------------------------------------------------------------
// AssessRisk / DecideAction
// ---------------------------------------------------------------------------

func clusterOf(merchants []string, stage models.MigrationStage, messages ...string) models.Cluster {
	var issues []models.Issue
	for i, m := range messages {
		issues = append(issues, models.Issue{
			ID:         fmt.Sprintf("i%d", i),
			Message:    m,
			Stage:      stage,
			MerchantID: merchants[i%len(merchants)],
		})
	}
	return models.Cluster{
		Issues:         issues,
		Representative: messages[0],
		Stages:         []string{string(stage)},
		Merchants:      merchants,
	}
}

func TestAssessRisk_NoClusters(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{}
	require.NoError(t, p.AssessRisk(context.Background(), s))
	require.NotNil(t, s.Risk)
	assert.Equal(t, models.RiskLow, s.Risk.Level)
}

func TestAssessRisk_CheckoutPostMigration(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Clusters: []models.Cluster{clusterOf([]string{"m1"}, models.StagePostMigration, "checkout page broken")},
	}
	require.NoError(t, p.AssessRisk(context.Background(), s))
	// checkout (3) + post-migration (1) = 4
	assert.Equal(t, models.RiskHigh, s.Risk.Level)
	assert.True(t, s.Risk.AffectsCheckout)
	assert.Equal(t, 1, s.Risk.MerchantCount)
	assert.Contains(t, s.Risk.Reasoning, "checkout")
}

func TestAssessRisk_BenignIssue(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Clusters: []models.Cluster{clusterOf([]string{"m1"}, models.StagePreMigration, "logo looks blurry")},
	}
	require.NoError(t, p.AssessRisk(context.Background(), s))
	assert.Equal(t, models.RiskLow, s.Risk.Level)
	assert.Equal(t, "No significant risk factors", s.Risk.Reasoning)
}

func TestDecideAction_SpikeWinsOverEverything(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		VolumeSpike:     true,
		SpikeCount:      57,
		AbnormalPattern: true,
		Diagnosis:       &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.99},
		Risk:            &models.RiskAssessment{Level: models.RiskLow},
	}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.Equal(t, models.ActionEscalate, s.Action)
	assert.True(t, s.RequiresApproval)
	assert.True(t, s.Emergency)
	assert.False(t, s.AutoFix)
	assert.Contains(t, s.ApprovalReason, "57")
}

func TestDecideAction_AbnormalPattern(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		AbnormalPattern: true,
		Diagnosis:       &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.99},
		Risk:            &models.RiskAssessment{Level: models.RiskLow},
	}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.Equal(t, models.ActionEscalate, s.Action)
	assert.True(t, s.Emergency)
}

func TestDecideAction_AutoFix(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Diagnosis: &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.9},
		Risk:      &models.RiskAssessment{Level: models.RiskLow},
	}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.Equal(t, models.ActionSetupInstructions, s.Action)
	assert.False(t, s.RequiresApproval)
	assert.True(t, s.AutoFix)

	// Non-misconfiguration auto-fix drafts a support response
	s = &models.Session{
		Diagnosis: &models.Diagnosis{RootCause: models.CauseDocumentationGap, Confidence: 0.9},
		Risk:      &models.RiskAssessment{Level: models.RiskLow},
	}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.Equal(t, models.ActionSupportResponse, s.Action)
	assert.False(t, s.RequiresApproval)
}

func TestDecideAction_MissingDiagnosis(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{Risk: &models.RiskAssessment{Level: models.RiskLow}}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.Equal(t, models.ActionHumanReview, s.Action)
	assert.True(t, s.RequiresApproval)
	assert.Equal(t, "Missing diagnosis or risk assessment", s.ApprovalReason)
}

func TestDecideAction_RootCauseDefaults(t *testing.T) {
	tests := []struct {
		cause  models.RootCause
		action models.ActionType
	}{
		{models.CauseMerchantMisconfiguration, models.ActionSetupInstructions},
		{models.CauseDocumentationGap, models.ActionSupportResponse},
		{models.CausePlatformRegression, models.ActionEscalate},
		{models.CauseUnknown, models.ActionHumanReview},
	}
	for _, tt := range tests {
		p := New(nil, nil, nil)
		s := &models.Session{
			Diagnosis: &models.Diagnosis{RootCause: tt.cause, Confidence: 0.6},
			Risk:      &models.RiskAssessment{Level: models.RiskMedium},
		}
		require.NoError(t, p.DecideAction(context.Background(), s))
		assert.Equal(t, tt.action, s.Action, "cause %s", tt.cause)
		assert.True(t, s.RequiresApproval)
		assert.Contains(t, s.ApprovalReason, "Low confidence (60%)")
	}
}

func TestDecideAction_HighConfidenceStillReviewed(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Diagnosis: &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.95},
		Risk:      &models.RiskAssessment{Level: models.RiskHigh},
	}
	require.NoError(t, p.DecideAction(context.Background(), s))
	assert.True(t, s.RequiresApproval)
	assert.Contains(t, s.ApprovalReason, "High risk")
}

// ---------------------------------------------------------------------------
// Act / Explain
// ---------------------------------------------------------------------------

func TestAct_SkippedUntilApproved(t *testing.T) {
	gen := &stubGenerator{draftText: "Hello merchant"}
	p := New(gen, nil, nil)
	s := &models.Session{
		RequiresApproval: true,
		Action:           models.ActionSupportResponse,
		Diagnosis:        &models.Diagnosis{RootCause: models.CauseDocumentationGap, Confidence: 0.6},
	}
	require.NoError(t, p.Act(context.Background(), s))
	assert.Nil(t, s.Proposed)
	assert.Zero(t, gen.calls)

	// With approval granted the same step drafts
	s.Approval = models.ApprovalApproved
	require.NoError(t, p.Act(context.Background(), s))
	require.NotNil(t, s.Proposed)
	assert.Equal(t, "Hello merchant", s.Proposed.Draft)
	assert.Equal(t, "support", s.Proposed.Audience)
}

func TestAct_EmergencyDraftsImmediately(t *testing.T) {
	gen := &stubGenerator{draftText: "Summary: outage"}
	p := New(gen, nil, nil)
	s := &models.Session{
		RequiresApproval: true,
		Emergency:        true,
		Action:           models.ActionEscalate,
		Diagnosis:        &models.Diagnosis{RootCause: models.CausePlatformRegression, Confidence: 0.8},
	}
	require.NoError(t, p.Act(context.Background(), s))
	require.NotNil(t, s.Proposed)
	assert.Equal(t, models.ActionEscalate, s.Proposed.Type)
	assert.Equal(t, "engineering", s.Proposed.Audience)
}

func TestAct_MissingDiagnosisFallback(t *testing.T) {
	p := New(&stubGenerator{}, nil, nil)
	s := &models.Session{Action: models.ActionSupportResponse}
	require.NoError(t, p.Act(context.Background(), s))
	require.NotNil(t, s.Proposed)
	assert.Equal(t, models.ActionHumanReview, s.Proposed.Type)
	assert.Contains(t, s.Proposed.Draft, "missing diagnosis")
}

func TestAct_GeneratorErrorEmbedded(t *testing.T) {
	gen := &stubGenerator{err: errors.New("overloaded")}
	p := New(gen, nil, nil)
	s := &models.Session{
		Action:    models.ActionSetupInstructions,
		Diagnosis: &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.9},
	}
	require.NoError(t, p.Act(context.Background(), s))
	require.NotNil(t, s.Proposed)
	assert.Contains(t, s.Proposed.Draft, "overloaded")
	assert.Equal(t, "merchant", s.Proposed.Audience)
}

func TestExplain_SectionsAndLearningFlag(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Clusters: []models.Cluster{clusterOf([]string{"m1", "m2"}, models.StagePostMigration, "webhook failed", "webhook broken")},
		Systemic: true,
		Knowledge: []models.KnowledgeHit{
			{Content: "doc", Partition: "knowledge_base"},
			{Content: "pattern", Partition: "error_patterns"},
		},
		Diagnosis:        &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.65, Reasoning: "partial match"},
		Risk:             &models.RiskAssessment{Level: models.RiskMedium, Reasoning: "multiple merchants"},
		Action:           models.ActionSetupInstructions,
		RequiresApproval: true,
		ApprovalReason:   "Low confidence (65%)",
	}

	require.NoError(t, p.Explain(context.Background(), s))
	assert.Contains(t, s.Explanation, "## Patterns Observed")
	assert.Contains(t, s.Explanation, "## Knowledge Used")
	assert.Contains(t, s.Explanation, "## Root Cause Diagnosis")
	assert.Contains(t, s.Explanation, "## Risk Assessment")
	assert.Contains(t, s.Explanation, "## Chosen Action")
	assert.Contains(t, s.Explanation, "## Uncertainty Notice")
	assert.True(t, s.LearningCandidate, "confidence below 0.70 flags learning")
}

func TestExplain_ConfidentNoUncertainty(t *testing.T) {
	p := New(nil, nil, nil)
	s := &models.Session{
		Diagnosis: &models.Diagnosis{RootCause: models.CauseMerchantMisconfiguration, Confidence: 0.9, Reasoning: "clear"},
	}
	require.NoError(t, p.Explain(context.Background(), s))
	assert.NotContains(t, s.Explanation, "Uncertainty Notice")
	assert.False(t, s.LearningCandidate)
}

// ---------------------------------------------------------------------------
// Learn
// ---------------------------------------------------------------------------

func TestLearn_AppendsIncident(t *testing.T) {
	know := &stubKnowledge{}
	p := New(nil, know, nil)
	s := &models.Session{
		LearningCandidate: true,
		Clusters:          []models.Cluster{{Representative: "Webhook failed"}},
		Diagnosis:         &models.Diagnosis{RootCause: models.CauseUnknown, Confidence: 0.5},
		Proposed:          &models.ProposedAction{Draft: "Please re-register your webhooks."},
		Approval:          models.ApprovalApproved,
	}

	require.NoError(t, p.Learn(context.Background(), s))
	require.Len(t, know.appended, 1)
	doc := know.appended[0]
	assert.Equal(t, knowledge.PartitionIncidents, doc.Partition)
	assert.Contains(t, doc.Content, "Webhook failed")
	assert.Contains(t, doc.Content, "re-register")
	assert.Equal(t, true, doc.Metadata["was_correct"])
	assert.Equal(t, "learning", doc.Metadata["source"])
}

func TestLearn_SkipsNonCandidates(t *testing.T) {
	know := &stubKnowledge{}
	p := New(nil, know, nil)

	s := &models.Session{
		Diagnosis: &models.Diagnosis{Confidence: 0.9},
		Proposed:  &models.ProposedAction{Draft: "x"},
	}
	require.NoError(t, p.Learn(context.Background(), s))
	assert.Empty(t, know.appended)

	s = &models.Session{LearningCandidate: true}
	require.NoError(t, p.Learn(context.Background(), s))
	assert.Empty(t, know.appended)
}

func TestLearned(t *testing.T) {
	assert.False(t, Learned(&models.Session{}))
	assert.True(t, Learned(&models.Session{
		LearningCandidate: true,
		Diagnosis:         &models.Diagnosis{},
		Proposed:          &models.ProposedAction{},
	}))
}

// ---------------------------------------------------------------------------
// End-to-end step walk (no engine, no store)
// ---------------------------------------------------------------------------

func runAllSteps(t *testing.T, p *Pipeline, s *models.Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.Observe(ctx, s))
	require.NoError(t, p.Cluster(ctx, s))
	require.NoError(t, p.SearchKnowledge(ctx, s))
	require.NoError(t, p.Diagnose(ctx, s))
	require.NoError(t, p.AssessRisk(ctx, s))
	require.NoError(t, p.DecideAction(ctx, s))
	require.NoError(t, p.Act(ctx, s))
	require.NoError(t, p.Explain(ctx, s))
}

func TestScenario_PostMigrationWebhookTicket(t *testing.T) {
	gen := &stubGenerator{
		diagnosisJSON: goodDiagnosis("merchant_misconfiguration", 0.9),
		draftText:     "1. Open settings\n2. Re-register the webhook",
	}
	p := New(gen, &stubKnowledge{}, nil)
	s := &models.Session{Tickets: []models.Ticket{{
		ID: "t1", MerchantID: "m1", Subject: "Webhook not firing",
		Description: "after migration the order webhook stopped",
		Stage:       models.StagePostMigration, Priority: "high",
	}}}

	runAllSteps(t, p, s)

	// webhook keyword + post-migration stage is the emergency combination
	assert.True(t, s.AbnormalPattern)
	assert.Equal(t, models.ActionEscalate, s.Action)
	assert.True(t, s.Emergency)
	assert.True(t, s.RequiresApproval)
	require.NotNil(t, s.Proposed, "emergencies draft before approval")
}

func TestScenario_BenignMisconfigurationAutoFix(t *testing.T) {
	gen := &stubGenerator{
		diagnosisJSON: goodDiagnosis("merchant_misconfiguration", 0.92),
		draftText:     "1. Go to theme settings\n2. Upload the logo again",
	}
	p := New(gen, &stubKnowledge{}, nil)
	s := &models.Session{Tickets: []models.Ticket{{
		ID: "t1", MerchantID: "m1", Subject: "Logo missing",
		Description: "the logo image did not carry over",
		Stage:       models.StagePreMigration, Priority: "low",
	}}}

	runAllSteps(t, p, s)

	assert.False(t, s.RequiresApproval)
	assert.True(t, s.AutoFix)
	assert.Equal(t, models.ActionSetupInstructions, s.Action)
	require.NotNil(t, s.Proposed)
	assert.Equal(t, "merchant", s.Proposed.Audience)
}

func TestScenario_VolumeSpike(t *testing.T) {
	gen := &stubGenerator{diagnosisJSON: goodDiagnosis("platform_regression", 0.8), draftText: "Summary: spike"}
	p := New(gen, &stubKnowledge{}, nil)

	var errs []models.ErrorReport
	for i := 0; i < rules.SpikeThreshold; i++ {
		errs = append(errs, models.ErrorReport{
			ID:      fmt.Sprintf("e%d", i),
			Code:    "502",
			Message: fmt.Sprintf("Bad gateway: request %d", i),
			Stage:   models.StageMidMigration,
		})
	}
	s := &models.Session{Errors: errs}

	runAllSteps(t, p, s)

	assert.True(t, s.VolumeSpike)
	assert.Equal(t, models.ActionEscalate, s.Action)
	assert.True(t, s.Emergency)
	require.NotNil(t, s.Proposed)
}

func TestTruncate_RuneAware(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, strings.Repeat("é", 3), truncate(strings.Repeat("é", 9), 3))
}
