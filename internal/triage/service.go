// Package triage orchestrates the workflow engine, the approval
// queue, and the async submission workers behind one service facade.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelworks/triage/internal/engine"
	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/pipeline"
	"github.com/sentinelworks/triage/internal/store"
)

// ErrInvalidInput is returned for malformed tickets or error reports;
// no session is created for them.
var ErrInvalidInput = errors.New("invalid input")

// Service is the triage entry point used by the API, the CLI, and the
// MCP server.
type Service struct {
	store   store.Store
	engine  *engine.Engine
	metrics *metricsRegistry
	spikes  *spikeTracker
	log     *slog.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once
}

// NewService creates a service with the given worker count for async
// submissions. Workers drain the submission queue and drive the
// engine; results land in the store.
func NewService(st store.Store, eng *engine.Engine, workers int, logger *slog.Logger) *Service {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   st,
		engine:  eng,
		metrics: &metricsRegistry{},
		spikes:  newSpikeTracker(),
		log:     logger,
		jobs:    make(chan string, 64),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Close stops the async workers after the queue drains.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.jobs)
	})
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for id := range s.jobs {
		ctx := context.Background()
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			s.log.Error("load queued session", "session_id", id, "error", err)
			continue
		}
		if _, err := s.runSession(ctx, sess); err != nil {
			s.log.Error("background triage failed", "session_id", id, "error", err)
		}
	}
}

// AnalyzeRequest is a batch of tickets and error reports.
type AnalyzeRequest struct {
	Tickets []models.Ticket      `json:"tickets"`
	Errors  []models.ErrorReport `json:"errors"`
}

// Analyze runs the full pipeline synchronously and returns the
// structured decision summary.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*models.AgentOutput, error) {
	if len(req.Tickets) == 0 && len(req.Errors) == 0 {
		return nil, fmt.Errorf("%w: at least one ticket or error is required", ErrInvalidInput)
	}
	tickets, errs, err := normalizeInputs(req.Tickets, req.Errors)
	if err != nil {
		return nil, err
	}

	sess := &models.Session{
		Status:   models.StatusObserving,
		Tickets:  tickets,
		Errors:   errs,
		Approval: models.ApprovalPending,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	result, err := s.runSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	return buildOutput(result), nil
}

// SubmitInput is a single free-text issue signal submitted
// asynchronously.
type SubmitInput struct {
	MerchantID string         `json:"merchant_id"`
	Message    string         `json:"message"`
	Stage      string         `json:"migration_stage"`
	StackTrace string         `json:"stack_trace,omitempty"`
	URL        string         `json:"url,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Submit enqueues a single signal and returns the session id
// immediately; a worker drives the pipeline in the background.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (string, error) {
	if strings.TrimSpace(in.Message) == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	stage := models.MigrationStage(in.Stage)
	if in.Stage == "" {
		stage = models.StagePostMigration
	}
	if !models.ValidStage(stage) {
		return "", fmt.Errorf("%w: unknown migration stage %q", ErrInvalidInput, in.Stage)
	}

	priority := "medium"
	if strings.Contains(strings.ToLower(in.Message), "checkout") {
		priority = "high"
	}

	meta := map[string]any{"source": "live_monitor"}
	if in.URL != "" {
		meta["url"] = in.URL
	}
	for k, v := range in.Context {
		meta[k] = v
	}

	// Repeated near-identical signals from one merchant escalate past
	// the keyword-based priority before any batch analysis runs.
	subject := fmt.Sprintf("Live Error: %s", truncate(in.Message, 50))
	if count := s.spikes.observe(in.MerchantID, in.Message); count >= liveSpikeThreshold {
		priority = "critical"
		subject = fmt.Sprintf("Spike Alert: %s", truncate(in.Message, 50))
		meta["spike_detected"] = true
		meta["spike_count"] = count
		s.log.Warn("live signal spike", "merchant_id", in.MerchantID, "count", count)
	}

	ticket := models.Ticket{
		ID:          store.NewULID(),
		MerchantID:  in.MerchantID,
		Subject:     subject,
		Description: in.Message,
		Stage:       stage,
		Priority:    priority,
		Timestamp:   time.Now().UTC(),
		Metadata:    meta,
	}

	sess := &models.Session{
		Status:        models.StatusObserving,
		Tickets:       []models.Ticket{ticket},
		ClientMessage: in.Message,
		Approval:      models.ApprovalPending,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}

	s.jobs <- sess.ID
	return sess.ID, nil
}

// runSession drives the engine for one session and applies the
// post-run bookkeeping: approval queue entry on suspension, outcome
// counters otherwise.
func (s *Service) runSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	s.metrics.sessionStarted()

	suspended, err := s.engine.Run(ctx, sess)
	if err != nil {
		s.metrics.failedSession()
		return sess, err
	}

	if suspended {
		s.metrics.escalatedSession()
		if qerr := s.enqueueApproval(ctx, sess); qerr != nil {
			s.log.Error("enqueue approval", "session_id", sess.ID, "error", qerr)
		}
		return sess, nil
	}

	s.metrics.autoResolvedSession()
	if pipeline.Learned(sess) {
		s.metrics.learningEvent()
	}
	return sess, nil
}

// enqueueApproval snapshots the session's diagnosis, risk, and
// proposed action into a pending approval request.
func (s *Service) enqueueApproval(ctx context.Context, sess *models.Session) error {
	return s.store.CreateApproval(ctx, &models.ApprovalRequest{
		SessionID:   sess.ID,
		Proposed:    sess.Proposed,
		Diagnosis:   sess.Diagnosis,
		Risk:        sess.Risk,
		Explanation: truncate(sess.Explanation, 500),
		Status:      models.ApprovalPending,
	})
}

// Decide applies a reviewer decision to a pending approval. The first
// decision wins; anything later returns store.ErrAlreadyResolved.
func (s *Service) Decide(ctx context.Context, approvalID string, approved bool, notes, actualResolution string) (*models.Session, error) {
	status := models.ApprovalRejected
	if approved {
		status = models.ApprovalApproved
	}

	req, err := s.store.ResolveApproval(ctx, approvalID, status, notes, actualResolution)
	if err != nil {
		return nil, err
	}

	sess, err := s.engine.Resume(ctx, req.SessionID, status)
	if err != nil {
		if sess != nil && sess.Status == models.StatusFailed {
			s.metrics.failedSession()
		}
		return sess, err
	}

	switch sess.Status {
	case models.StatusDispatched:
		s.metrics.dispatchedSession()
	case models.StatusFailed:
		s.metrics.failedSession()
	}
	if approved && pipeline.Learned(sess) {
		s.metrics.learningEvent()
	}
	return sess, nil
}

// PendingApprovals lists the queue entries awaiting a reviewer.
func (s *Service) PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return s.store.ListPendingApprovals(ctx)
}

// Session returns the full session record.
func (s *Service) Session(ctx context.Context, id string) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// RecentSessions returns up to limit most recent sessions.
func (s *Service) RecentSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListSessions(ctx, limit)
}

// Metrics returns the aggregate counters plus the live pending
// approval count.
func (s *Service) Metrics(ctx context.Context) (models.Metrics, error) {
	pending, err := s.store.CountPendingApprovals(ctx)
	if err != nil {
		return models.Metrics{}, err
	}
	return s.metrics.snapshot(pending), nil
}

// ClientStatus is the restricted polling view: status always, the
// resolution text only once the session is terminal, and never the
// internal reasoning, risk, or confidence.
type ClientStatus struct {
	SessionID  string        `json:"session_id"`
	Status     models.Status `json:"status"`
	Resolution string        `json:"resolution,omitempty"`
}

// Status returns the client-facing view of a session.
func (s *Service) Status(ctx context.Context, id string) (*ClientStatus, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	cs := &ClientStatus{SessionID: sess.ID, Status: sess.Status}
	if sess.Status == models.StatusCompleted || sess.Status == models.StatusDispatched {
		cs.Resolution = sess.Resolution()
	}
	return cs, nil
}

func normalizeInputs(tickets []models.Ticket, errs []models.ErrorReport) ([]models.Ticket, []models.ErrorReport, error) {
	now := time.Now().UTC()
	out := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.Description) == "" {
			return nil, nil, fmt.Errorf("%w: ticket requires a subject or description", ErrInvalidInput)
		}
		if t.Stage == "" {
			t.Stage = models.StageUnknown
		}
		if !models.ValidStage(t.Stage) {
			return nil, nil, fmt.Errorf("%w: unknown migration stage %q", ErrInvalidInput, t.Stage)
		}
		if t.ID == "" {
			t.ID = store.NewULID()
		}
		if t.MerchantID == "" {
			t.MerchantID = "unknown"
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		out = append(out, t)
	}

	outErrs := make([]models.ErrorReport, 0, len(errs))
	for _, e := range errs {
		if strings.TrimSpace(e.Message) == "" {
			return nil, nil, fmt.Errorf("%w: error report requires an error_message", ErrInvalidInput)
		}
		if e.Stage == "" {
			e.Stage = models.StageUnknown
		}
		if !models.ValidStage(e.Stage) {
			return nil, nil, fmt.Errorf("%w: unknown migration stage %q", ErrInvalidInput, e.Stage)
		}
		if e.ID == "" {
			e.ID = store.NewULID()
		}
		if e.Code == "" {
			e.Code = "UNKNOWN"
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		outErrs = append(outErrs, e)
	}
	return out, outErrs, nil
}

func buildOutput(sess *models.Session) *models.AgentOutput {
	out := &models.AgentOutput{
		SessionID:        sess.ID,
		RootCause:        string(models.CauseUnknown),
		Risk:             string(models.RiskLow),
		RecommendedText:  "No action generated",
		RequiresApproval: sess.RequiresApproval,
		Explanation:      sess.Explanation,
		LearningFlag:     sess.LearningCandidate,
	}

	if dom := sess.DominantCluster(); dom != nil {
		out.ObservedPattern = fmt.Sprintf("Observed %d related issues affecting %d merchants",
			len(dom.Issues), len(dom.Merchants))
		if sess.Systemic {
			out.ObservedPattern += " (SYSTEMIC)"
		}
	} else {
		out.ObservedPattern = "No clear pattern identified"
	}

	if sess.Diagnosis != nil {
		out.RootCause = string(sess.Diagnosis.RootCause)
		out.Confidence = sess.Diagnosis.Confidence
	}
	if sess.Risk != nil {
		out.Risk = string(sess.Risk.Level)
	}
	if sess.Proposed != nil {
		out.RecommendedText = sess.Proposed.Draft
	}

	seen := make(map[string]bool)
	for _, hit := range sess.Knowledge {
		if !seen[hit.Partition] {
			seen[hit.Partition] = true
			out.SourcesUsed = append(out.SourcesUsed, hit.Partition)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
