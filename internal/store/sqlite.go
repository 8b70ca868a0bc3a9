package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sentinelworks/triage/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewULID generates a new ULID string.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = NewULID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, requires_approval, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Status), boolToInt(sess.RequiresApproval), string(state), sess.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, requires_approval = ?, state = ?, updated_at = ? WHERE id = ?`,
		string(sess.Status), boolToInt(sess.RequiresApproval), string(state), time.Now().UTC(), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	query := `SELECT state FROM sessions ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(state), &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session state: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// --- Checkpoints ---

func (s *SQLiteStore) PutCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	cp.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, step, state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET step = excluded.step, state = excluded.state, updated_at = excluded.updated_at`,
		cp.SessionID, cp.Step, string(state), cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, step, state, updated_at FROM checkpoints WHERE session_id = ?`, sessionID).
		Scan(&cp.SessionID, &cp.Step, &state, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	cp.State = &sess
	return &cp, nil
}

// --- Approvals ---

func (s *SQLiteStore) CreateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = NewULID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.ApprovalPending
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, session_id, payload, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, string(payload), string(req.Status), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.scanApproval(s.db.QueryRowContext(ctx,
		`SELECT payload, status, reviewer_notes, actual_resolution, resolved_at FROM approvals WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var payload, status, notes, resolution string
	var resolvedAt sql.NullTime
	err := row.Scan(&payload, &status, &notes, &resolution, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	var req models.ApprovalRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("unmarshal approval: %w", err)
	}
	req.Status = models.ApprovalStatus(status)
	req.ReviewerNotes = notes
	req.ActualResolution = resolution
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return &req, nil
}

func (s *SQLiteStore) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, status, reviewer_notes, actual_resolution, resolved_at FROM approvals WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var reqs []*models.ApprovalRequest
	for rows.Next() {
		req, err := s.scanApproval(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *SQLiteStore) CountPendingApprovals(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending approvals: %w", err)
	}
	return count, nil
}

// ResolveApproval transitions a pending approval to its terminal
// status. The conditional UPDATE makes the first decision win; later
// decisions see zero rows affected.
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus, notes, actualResolution string) (*models.ApprovalRequest, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, reviewer_notes = ?, actual_resolution = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), notes, actualResolution, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish unknown id from already-resolved.
		if _, gerr := s.GetApproval(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrAlreadyResolved
	}
	return s.GetApproval(ctx, id)
}
