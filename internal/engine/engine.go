// Package engine drives a session through the fixed step order, writes
// a checkpoint after every transition, suspends at the approval
// boundary, and resumes from the persisted state once a decision
// arrives. Execution is forward-only: the single suspend/resume
// boundary is the only place control leaves the step walk.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelworks/triage/internal/models"
	"github.com/sentinelworks/triage/internal/pipeline"
	"github.com/sentinelworks/triage/internal/store"
)

// Step names recorded in checkpoints.
const (
	StepObserve       = "observe"
	StepCluster       = "cluster"
	StepSearch        = "search_knowledge"
	StepDiagnose      = "diagnose"
	StepAssessRisk    = "assess_risk"
	StepDecideAction  = "decide_action"
	StepAct           = "act"
	StepExplain       = "explain"
	StepAwaitApproval = "await_approval"
	StepLearn         = "learn"
	StepDone          = "done"
)

// ErrNotSuspended is returned when a resume targets a session whose
// checkpoint is not paused at the approval boundary.
var ErrNotSuspended = errors.New("session is not awaiting approval")

type step struct {
	name   string
	status models.Status
	run    func(ctx context.Context, s *models.Session) error
}

// Engine executes the triage pipeline against the session store.
// Stateless apart from its collaborators; distinct sessions may run
// concurrently.
type Engine struct {
	store store.Store
	steps []step
	pipe  *pipeline.Pipeline
}

// New creates an engine over the given store and pipeline.
func New(st store.Store, p *pipeline.Pipeline) *Engine {
	return &Engine{
		store: st,
		pipe:  p,
		steps: []step{
			{StepObserve, models.StatusObserving, p.Observe},
			{StepCluster, models.StatusClustering, p.Cluster},
			{StepSearch, models.StatusSearching, p.SearchKnowledge},
			{StepDiagnose, models.StatusDiagnosing, p.Diagnose},
			{StepAssessRisk, models.StatusAssessing, p.AssessRisk},
			{StepDecideAction, models.StatusDeciding, p.DecideAction},
			{StepAct, models.StatusActing, p.Act},
			{StepExplain, models.StatusActing, p.Explain},
		},
	}
}

// Run walks steps 1-8 for a fresh session, checkpointing after each.
// Sessions that need approval suspend at the await-approval boundary
// and report suspended=true; all others continue through Learn to a
// terminal state.
func (e *Engine) Run(ctx context.Context, sess *models.Session) (suspended bool, err error) {
	for _, st := range e.steps {
		sess.Status = st.status
		if err := st.run(ctx, sess); err != nil {
			return false, e.fail(ctx, sess, st.name, err)
		}
		if err := e.checkpoint(ctx, sess, st.name); err != nil {
			return false, e.fail(ctx, sess, st.name, err)
		}
	}

	if sess.RequiresApproval {
		sess.Status = models.StatusAwaitingApproval
		if err := e.pipe.AwaitApproval(ctx, sess); err != nil {
			return false, e.fail(ctx, sess, StepAwaitApproval, err)
		}
		if err := e.checkpoint(ctx, sess, StepAwaitApproval); err != nil {
			return false, e.fail(ctx, sess, StepAwaitApproval, err)
		}
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := e.finish(ctx, sess); err != nil {
		return false, err
	}
	return false, nil
}

// Resume loads the checkpoint, validates the session is paused at the
// approval boundary, applies the decision, and continues. Rejection is
// terminal without Learn; approval drafts the skipped action if
// needed, runs Learn, and completes or dispatches.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision models.ApprovalStatus) (*models.Session, error) {
	cp, err := e.store.GetCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp.Step != StepAwaitApproval {
		return nil, fmt.Errorf("%w: checkpoint at %q", ErrNotSuspended, cp.Step)
	}

	sess := cp.State
	sess.Approval = decision

	if decision == models.ApprovalRejected {
		now := time.Now().UTC()
		sess.Status = models.StatusFailed
		sess.Error = "proposed action rejected by reviewer"
		sess.CompletedAt = &now
		if err := e.checkpoint(ctx, sess, StepDone); err != nil {
			return nil, err
		}
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	// Act was a guarded no-op before suspension on the non-emergency
	// approval path; with approval granted it may now draft.
	if sess.Proposed == nil {
		sess.Status = models.StatusActing
		if err := e.pipe.Act(ctx, sess); err != nil {
			return sess, e.fail(ctx, sess, StepAct, err)
		}
		if err := e.checkpoint(ctx, sess, StepAct); err != nil {
			return sess, e.fail(ctx, sess, StepAct, err)
		}
	}

	if err := e.finish(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// finish runs Learn and moves the session to its terminal state:
// dispatched for approved client-facing actions, completed otherwise.
func (e *Engine) finish(ctx context.Context, sess *models.Session) error {
	if err := e.pipe.Learn(ctx, sess); err != nil {
		return e.fail(ctx, sess, StepLearn, err)
	}
	if err := e.checkpoint(ctx, sess, StepLearn); err != nil {
		return e.fail(ctx, sess, StepLearn, err)
	}

	now := time.Now().UTC()
	sess.CompletedAt = &now
	if sess.Approval == models.ApprovalApproved && sess.Action.ClientFacing() {
		sess.Status = models.StatusDispatched
		sess.DispatchedAt = &now
	} else {
		sess.Status = models.StatusCompleted
	}

	if err := e.checkpoint(ctx, sess, StepDone); err != nil {
		return err
	}
	return e.store.UpdateSession(ctx, sess)
}

func (e *Engine) checkpoint(ctx context.Context, sess *models.Session, stepName string) error {
	return e.store.PutCheckpoint(ctx, &models.Checkpoint{
		SessionID: sess.ID,
		Step:      stepName,
		State:     sess,
	})
}

// fail marks the session terminally failed and records the error. The
// session record is best-effort updated; the original error is always
// returned.
func (e *Engine) fail(ctx context.Context, sess *models.Session, stepName string, cause error) error {
	now := time.Now().UTC()
	sess.Status = models.StatusFailed
	sess.Error = cause.Error()
	sess.CompletedAt = &now
	_ = e.checkpoint(ctx, sess, stepName)
	_ = e.store.UpdateSession(ctx, sess)
	return fmt.Errorf("step %s: %w", stepName, cause)
}
