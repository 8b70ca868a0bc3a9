package store

import (
	"context"
	"errors"

	"github.com/sentinelworks/triage/internal/models"
)

// ErrNotFound is returned when a session, checkpoint, or approval id
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved is returned when a decision arrives for an
// approval that has already been approved or rejected. First decision
// wins.
var ErrAlreadyResolved = errors.New("approval already resolved")

// Store defines the persistence interface for triage sessions,
// checkpoints, and the approval queue. Implementations must provide
// atomic get/put per key; operations on distinct sessions never block
// each other beyond writer serialization.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// Checkpoints
	PutCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	GetCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error)

	// Approval queue
	CreateApproval(ctx context.Context, req *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
	CountPendingApprovals(ctx context.Context) (int, error)
	// ResolveApproval atomically transitions a pending approval to
	// approved or rejected. A second decision on the same id returns
	// ErrAlreadyResolved.
	ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus, notes, actualResolution string) (*models.ApprovalRequest, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
