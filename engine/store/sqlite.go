package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store implementation.
//
// It is the default production backend for single-host deployments:
// zero-setup, durable across process restarts, and WAL mode keeps readers
// (status queries, dashboards) from blocking the single writer.
//
// Schema:
//   - workflow_checkpoints: one row per thread, replaced atomically
//   - workflow_decisions: append-only approval/rejection log
//
// Type parameter S must be JSON-serializable.
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema. Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite supports a single writer; keep one pooled connection so the
	// WAL writer never contends with itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id   TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			next_nodes  TEXT NOT NULL,
			stage_index INTEGER NOT NULL,
			paused_at   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			revisions   TEXT NOT NULL DEFAULT '{}',
			updated_at  TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("create workflow_checkpoints: %w", err)
	}

	decisions := `
		CREATE TABLE IF NOT EXISTS workflow_decisions (
			id           TEXT PRIMARY KEY,
			thread_id    TEXT NOT NULL,
			gate_id      TEXT NOT NULL,
			approved     INTEGER NOT NULL,
			reason_codes TEXT NOT NULL DEFAULT '',
			free_text    TEXT NOT NULL DEFAULT '',
			revision_of  INTEGER NOT NULL DEFAULT 0,
			reviewer_id  TEXT NOT NULL DEFAULT '',
			decided_at   TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, decisions); err != nil {
		return fmt.Errorf("create workflow_decisions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_decisions_thread ON workflow_decisions(thread_id, decided_at)"); err != nil {
		return fmt.Errorf("create idx_decisions_thread: %w", err)
	}
	return nil
}

// Save replaces the thread's row in a single statement, which SQLite
// applies atomically.
func (s *SQLiteStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread ID cannot be empty")
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	nextJSON, err := json.Marshal(cp.NextNodes)
	if err != nil {
		return fmt.Errorf("marshal next nodes: %w", err)
	}
	revJSON, err := json.Marshal(cp.Revisions)
	if err != nil {
		return fmt.Errorf("marshal revisions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints
			(thread_id, state, next_nodes, stage_index, paused_at, status, revisions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			next_nodes = excluded.next_nodes,
			stage_index = excluded.stage_index,
			paused_at = excluded.paused_at,
			status = excluded.status,
			revisions = excluded.revisions,
			updated_at = excluded.updated_at
	`, cp.ThreadID, string(stateJSON), string(nextJSON), cp.StageIndex,
		cp.PausedAt, string(cp.Status), string(revJSON), cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the thread's checkpoint, or ErrNotFound.
func (s *SQLiteStore[S]) Load(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := s.ensureOpen(); err != nil {
		return cp, err
	}

	var stateJSON, nextJSON, revJSON, status string
	row := s.db.QueryRowContext(ctx, `
		SELECT state, next_nodes, stage_index, paused_at, status, revisions, updated_at
		FROM workflow_checkpoints WHERE thread_id = ?
	`, threadID)
	err := row.Scan(&stateJSON, &nextJSON, &cp.StageIndex, &cp.PausedAt,
		&status, &revJSON, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.ThreadID = threadID
	cp.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(nextJSON), &cp.NextNodes); err != nil {
		return cp, fmt.Errorf("unmarshal next nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(revJSON), &cp.Revisions); err != nil {
		return cp, fmt.Errorf("unmarshal revisions: %w", err)
	}
	return cp, nil
}

// Threads lists thread IDs ordered by most recent activity.
func (s *SQLiteStore[S]) Threads(ctx context.Context) ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT thread_id FROM workflow_checkpoints ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendDecision inserts one decision row. Rows are never updated.
func (s *SQLiteStore[S]) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if rec.ThreadID == "" {
		return fmt.Errorf("decision thread ID cannot be empty")
	}

	approved := 0
	if rec.Approved {
		approved = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_decisions
			(id, thread_id, gate_id, approved, reason_codes, free_text, revision_of, reviewer_id, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ThreadID, rec.GateID, approved,
		strings.Join(rec.ReasonCodes, ","), rec.FreeText,
		rec.RevisionOfVersion, rec.ReviewerID, rec.DecidedAt.UTC())
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// Decisions returns the thread's decision log in append order.
func (s *SQLiteStore[S]) Decisions(ctx context.Context, threadID string) ([]DecisionRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gate_id, approved, reason_codes, free_text, revision_of, reviewer_id, decided_at
		FROM workflow_decisions WHERE thread_id = ? ORDER BY decided_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec := DecisionRecord{ThreadID: threadID}
		var approved int
		var reasons string
		if err := rows.Scan(&rec.ID, &rec.GateID, &approved, &reasons,
			&rec.FreeText, &rec.RevisionOfVersion, &rec.ReviewerID, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Approved = approved != 0
		if reasons != "" {
			rec.ReasonCodes = strings.Split(reasons, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle. Further calls return an error.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore[S]) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

var _ Store[struct{}] = (*SQLiteStore[struct{}])(nil)
