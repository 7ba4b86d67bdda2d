// Package store persists sessions, messages and tasks in a local SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"kory/internal/logging"
)

// ErrNotFound is returned when a session, message or task does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Store is the SQLite-backed session/message/task repository. Writes are
// serialized by the driver; WAL mode keeps readers unblocked.
type Store struct {
	db     *sqlx.DB
	logger logging.Logger
}

// Open creates (or opens) the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logging.NewComponentLogger("store")}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			s.logger.Warn("close after schema error: %v", closeErr)
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		parent_id TEXT DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		workflow_state TEXT NOT NULL DEFAULT 'idle',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		model TEXT DEFAULT '',
		provider TEXT DEFAULT '',
		tool_call_id TEXT DEFAULT '',
		tool_calls TEXT DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		domain TEXT DEFAULT '',
		model TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		plan TEXT DEFAULT '',
		result TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`)
	return err
}

// Session operations

// CreateSession creates a new session in state idle.
func (s *Store) CreateSession(ctx context.Context, title, parentID string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:            uuid.New().String(),
		Title:         title,
		ParentID:      parentID,
		WorkflowState: StateIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, parent_id, workflow_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.Title, session.ParentID, session.WorkflowState, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	session := &Session{}
	err := s.db.GetContext(ctx, session, `SELECT * FROM sessions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns all sessions ordered by most recently updated.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	err := s.db.SelectContext(ctx, &sessions, `SELECT * FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSession applies a partial update and returns the stored session.
func (s *Store) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.WorkflowState != nil {
		session.WorkflowState = *patch.WorkflowState
	}
	session.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, workflow_state = ?, updated_at = ? WHERE id = ?
	`, session.Title, session.WorkflowState, session.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session; messages and tasks cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetWorkflowState moves a session into a new workflow state.
func (s *Store) SetWorkflowState(ctx context.Context, id, state string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET workflow_state = ?, updated_at = ? WHERE id = ?
	`, state, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddUsage accumulates token and cost counters on a session.
func (s *Store) AddUsage(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET tokens_in = tokens_in + ?, tokens_out = tokens_out + ?, total_cost = total_cost + ?, updated_at = ?
		WHERE id = ?
	`, tokensIn, tokensOut, cost, time.Now().UTC(), id)
	return err
}

// Clear removes all sessions and, through cascades, all messages and tasks.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

// Message operations

// AddMessage appends a message to a session's transcript and bumps the
// session's message counter.
func (s *Store) AddMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	toolCallsJSON := "[]"
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("serialize tool calls: %w", err)
		}
		toolCallsJSON = string(data)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, model, provider, tool_call_id, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Model, msg.Provider, msg.ToolCallID, toolCallsJSON, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), msg.SessionID)
	if err != nil {
		return fmt.Errorf("bump message count: %w", err)
	}
	return tx.Commit()
}

// GetMessages returns a session's messages in ascending time order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, model, provider, tool_call_id, tool_calls, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// GetRecentMessages returns the last limit messages in ascending time order.
func (s *Store) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, model, provider, tool_call_id, tool_calls, created_at
		FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var result []*Message
	for rows.Next() {
		msg := &Message{}
		var toolCallsJSON string
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&msg.Model, &msg.Provider, &msg.ToolCallID, &toolCallsJSON, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		if toolCallsJSON != "" && toolCallsJSON != "[]" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("deserialize tool calls: %w", err)
			}
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// Task operations

// CreateTask creates a task in state pending.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = TaskPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, description, domain, model, status, plan, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.SessionID, task.Description, task.Domain, task.Model,
		task.Status, task.Plan, task.Result, task.Error, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	task := &Task{}
	err := s.db.GetContext(ctx, task, `SELECT * FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTask applies a partial update. Status transitions only move forward;
// an attempt to move a finished task back is rejected.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil {
		if !validTaskTransition(task.Status, *patch.Status) {
			return nil, fmt.Errorf("invalid task transition %s -> %s", task.Status, *patch.Status)
		}
		task.Status = *patch.Status
	}
	if patch.Plan != nil {
		task.Plan = *patch.Plan
	}
	if patch.Result != nil {
		task.Result = *patch.Result
	}
	if patch.Error != nil {
		task.Error = *patch.Error
	}
	if patch.Model != nil {
		task.Model = *patch.Model
	}
	task.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, plan = ?, result = ?, error = ?, model = ?, updated_at = ? WHERE id = ?
	`, task.Status, task.Plan, task.Result, task.Error, task.Model, task.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// ListActiveTasks returns tasks in pending or active state.
func (s *Store) ListActiveTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks WHERE status IN ('pending', 'active') ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func validTaskTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskPending:
		return to == TaskActive || to == TaskDone || to == TaskFailed || to == TaskInterrupted
	case TaskActive:
		return to == TaskDone || to == TaskFailed || to == TaskInterrupted
	default:
		return false
	}
}
