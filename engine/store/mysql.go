package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store implementation for multi-host
// deployments where several API replicas share one checkpoint database.
//
// Atomicity per thread comes from the single-row
// INSERT ... ON DUPLICATE KEY UPDATE; MySQL applies it as one statement so
// readers never observe a half-written checkpoint.
//
// DSN format follows go-sql-driver/mysql, e.g.
// "user:pass@tcp(127.0.0.1:3306)/maya?parseTime=true". parseTime=true is
// required so timestamps scan into time.Time.
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore connects to the database and migrates the schema.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			thread_id   VARCHAR(128) PRIMARY KEY,
			state       LONGTEXT NOT NULL,
			next_nodes  TEXT NOT NULL,
			stage_index INT NOT NULL,
			paused_at   VARCHAR(128) NOT NULL DEFAULT '',
			status      VARCHAR(32) NOT NULL,
			revisions   TEXT NOT NULL,
			updated_at  DATETIME(6) NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("create workflow_checkpoints: %w", err)
	}

	decisions := `
		CREATE TABLE IF NOT EXISTS workflow_decisions (
			id           VARCHAR(64) PRIMARY KEY,
			thread_id    VARCHAR(128) NOT NULL,
			gate_id      VARCHAR(128) NOT NULL,
			approved     TINYINT(1) NOT NULL,
			reason_codes TEXT NOT NULL,
			free_text    TEXT NOT NULL,
			revision_of  INT NOT NULL DEFAULT 0,
			reviewer_id  VARCHAR(128) NOT NULL DEFAULT '',
			decided_at   DATETIME(6) NOT NULL,
			INDEX idx_decisions_thread (thread_id, decided_at)
		)
	`
	if _, err := s.db.ExecContext(ctx, decisions); err != nil {
		return fmt.Errorf("create workflow_decisions: %w", err)
	}
	return nil
}

// Save atomically replaces the thread's checkpoint row.
func (s *MySQLStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
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
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			next_nodes = VALUES(next_nodes),
			stage_index = VALUES(stage_index),
			paused_at = VALUES(paused_at),
			status = VALUES(status),
			revisions = VALUES(revisions),
			updated_at = VALUES(updated_at)
	`, cp.ThreadID, string(stateJSON), string(nextJSON), cp.StageIndex,
		cp.PausedAt, string(cp.Status), string(revJSON), cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the thread's checkpoint, or ErrNotFound.
func (s *MySQLStore[S]) Load(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var cp Checkpoint[S]

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
func (s *MySQLStore[S]) Threads(ctx context.Context) ([]string, error) {
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

// AppendDecision inserts one decision row.
func (s *MySQLStore[S]) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.ThreadID == "" {
		return fmt.Errorf("decision thread ID cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_decisions
			(id, thread_id, gate_id, approved, reason_codes, free_text, revision_of, reviewer_id, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ThreadID, rec.GateID, rec.Approved,
		strings.Join(rec.ReasonCodes, ","), rec.FreeText,
		rec.RevisionOfVersion, rec.ReviewerID, rec.DecidedAt.UTC())
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// Decisions returns the thread's decision log in append order.
func (s *MySQLStore[S]) Decisions(ctx context.Context, threadID string) ([]DecisionRecord, error) {
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
		var reasons string
		if err := rows.Scan(&rec.ID, &rec.GateID, &rec.Approved, &reasons,
			&rec.FreeText, &rec.RevisionOfVersion, &rec.ReviewerID, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if reasons != "" {
			rec.ReasonCodes = strings.Split(reasons, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}

var _ Store[struct{}] = (*MySQLStore[struct{}])(nil)
