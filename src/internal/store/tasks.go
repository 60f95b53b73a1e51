package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeInstruction TaskType = "instruction"
	TaskTypeFollowUp    TaskType = "followUp"
	TaskTypeManual      TaskType = "manual"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskWaiting   TaskStatus = "waiting"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one unit of autonomous agent work. A nil ScheduledFor means
// run as soon as possible.
type Task struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	InstructionID string         `json:"instructionId,omitempty"`
	Type          TaskType       `json:"type"`
	Status        TaskStatus     `json:"status"`
	Summary       string         `json:"summary"`
	ScheduledFor  *time.Time     `json:"scheduledFor,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	CancelledAt   *time.Time     `json:"cancelledAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one ordered unit of progress within a task. Steps are appended
// lazily; the runner creates the next one only when none is outstanding.
type Step struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"taskId"`
	Index       int            `json:"index"`
	Title       string         `json:"title"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ContextEntry is a durable key/value fact attached to a task.
type ContextEntry struct {
	TaskID    string         `json:"taskId"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CreateTask persists a new task, assigning an id if unset.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_tasks (id, user_id, instruction_id, type, status, summary, scheduled_for, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullString(t.InstructionID), t.Type, t.Status, t.Summary, nullTime(t.ScheduledFor), meta, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// ClaimTask transitions a task from pending/waiting to running and stamps
// startedAt. The conditional update is the sole safeguard against two
// overlapping cycles double-executing the same task: zero affected rows
// means another runner already claimed it or it left the eligible state,
// which callers must treat as a skip, not an error.
func (s *Store) ClaimTask(ctx context.Context, taskID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_tasks SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		TaskRunning, now, now, taskID, TaskPending, TaskWaiting,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, instruction_id, type, status, summary, scheduled_for, error_message, metadata,
			started_at, completed_at, cancelled_at, created_at, updated_at
		 FROM agent_tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListDueTasks returns pending/waiting tasks whose scheduled_for is unset
// or has passed, oldest first.
func (s *Store) ListDueTasks(ctx context.Context, userID string, now time.Time, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction_id, type, status, summary, scheduled_for, error_message, metadata,
			started_at, completed_at, cancelled_at, created_at, updated_at
		 FROM agent_tasks
		 WHERE user_id = ? AND status IN (?, ?) AND (scheduled_for IS NULL OR scheduled_for <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		userID, TaskPending, TaskWaiting, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasks returns a user's tasks, optionally filtered by status,
// newest first.
func (s *Store) ListTasks(ctx context.Context, userID string, status TaskStatus, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, instruction_id, type, status, summary, scheduled_for, error_message, metadata,
		started_at, completed_at, cancelled_at, created_at, updated_at
		FROM agent_tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListStaleRunning returns tasks that have been in running longer than age.
// There is no automatic requeue; this exists so an operator can inspect
// tasks stranded by a crashed runner.
func (s *Store) ListStaleRunning(ctx context.Context, age time.Duration) ([]*Task, error) {
	cutoff := time.Now().UTC().Add(-age)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction_id, type, status, summary, scheduled_for, error_message, metadata,
			started_at, completed_at, cancelled_at, created_at, updated_at
		 FROM agent_tasks WHERE status = ? AND started_at <= ? ORDER BY started_at ASC`,
		TaskRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// FinishTask writes a task's terminal state. The write is idempotent: a
// retried finalization overwrites the same columns. Metadata updates are
// merged into the existing metadata rather than clobbering it.
func (s *Store) FinishTask(ctx context.Context, taskID string, status TaskStatus, errMsg string, metaUpdates map[string]any) error {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	merged := MergeMetadata(t.Metadata, metaUpdates)
	meta, err := marshalJSON(merged)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var completedAt, cancelledAt any
	switch status {
	case TaskCompleted, TaskFailed:
		completedAt = now
	case TaskCancelled:
		cancelledAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE agent_tasks SET status = ?, error_message = ?, metadata = ?,
			completed_at = COALESCE(?, completed_at), cancelled_at = COALESCE(?, cancelled_at), updated_at = ?
		 WHERE id = ?`,
		status, nullString(errMsg), meta, completedAt, cancelledAt, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// UpdateTaskSummary overwrites the task's human summary.
func (s *Store) UpdateTaskSummary(ctx context.Context, taskID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_tasks SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task summary: %w", err)
	}
	return nil
}

// NextStep returns the task's outstanding pending/running step if one
// exists, otherwise appends a new pending step at the next index.
func (s *Store) NextStep(ctx context.Context, t *Task, input map[string]any) (*Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, idx, title, status, input, output, error, started_at, completed_at, created_at
		 FROM task_steps WHERE task_id = ? AND status IN (?, ?) ORDER BY idx ASC LIMIT 1`,
		t.ID, StepPending, StepRunning)
	step, err := scanStep(row)
	if err == nil {
		return step, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_steps WHERE task_id = ?`, t.ID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count steps: %w", err)
	}
	title := t.Summary
	if title == "" {
		title = "Agent task"
	}
	return s.AppendStep(ctx, t.ID, count, title, input)
}

// AppendStep inserts a pending step at the given index.
func (s *Store) AppendStep(ctx context.Context, taskID string, index int, title string, input map[string]any) (*Step, error) {
	in, err := marshalJSON(input)
	if err != nil {
		return nil, err
	}
	step := &Step{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Index:     index,
		Title:     title,
		Status:    StepPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_steps (id, task_id, idx, title, status, input, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.TaskID, step.Index, step.Title, step.Status, in, step.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append step: %w", err)
	}
	return step, nil
}

// StartStep marks a step running and stamps startedAt.
func (s *Store) StartStep(ctx context.Context, stepID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_steps SET status = ?, started_at = ? WHERE id = ?`,
		StepRunning, time.Now().UTC(), stepID)
	if err != nil {
		return fmt.Errorf("failed to start step: %w", err)
	}
	return nil
}

// FinishStep writes a step's terminal state. Output and error are
// overwritten rather than appended, so retried finalization is
// side-effect-free on the store.
func (s *Store) FinishStep(ctx context.Context, stepID string, status StepStatus, output map[string]any, errMsg string) error {
	out, err := marshalJSON(output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE task_steps SET status = ?, output = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, out, nullString(errMsg), time.Now().UTC(), stepID)
	if err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	return nil
}

// FailRunningSteps marks any step left running as failed, so a failed task
// is never left claimed-but-stuck.
func (s *Store) FailRunningSteps(ctx context.Context, taskID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_steps SET status = ?, error = ?, completed_at = ? WHERE task_id = ? AND status = ?`,
		StepFailed, errMsg, time.Now().UTC(), taskID, StepRunning)
	if err != nil {
		return fmt.Errorf("failed to fail running steps: %w", err)
	}
	return nil
}

// ListTaskSteps returns a task's steps in index order.
func (s *Store) ListTaskSteps(ctx context.Context, taskID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, idx, title, status, input, output, error, started_at, completed_at, created_at
		 FROM task_steps WHERE task_id = ? ORDER BY idx ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var out []*Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// UpsertTaskContext writes a durable fact keyed uniquely per (task, key),
// overwriting any previous value.
func (s *Store) UpsertTaskContext(ctx context.Context, taskID, key string, value map[string]any) error {
	val, err := marshalJSON(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_context (task_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		taskID, key, val, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert task context: %w", err)
	}
	return nil
}

// ListTaskContext returns a task's context entries ordered by key.
func (s *Store) ListTaskContext(ctx context.Context, taskID string) ([]*ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, key, value, updated_at FROM task_context WHERE task_id = ? ORDER BY key ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task context: %w", err)
	}
	defer rows.Close()

	var out []*ContextEntry
	for rows.Next() {
		var (
			entry ContextEntry
			val   sql.NullString
		)
		if err := rows.Scan(&entry.TaskID, &entry.Key, &val, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task context: %w", err)
		}
		entry.Value = unmarshalJSON(val)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// MergeMetadata combines task metadata key-wise: updates win per key but
// unrelated existing keys survive. A nil side yields the other unchanged.
func MergeMetadata(existing, updates map[string]any) map[string]any {
	if updates == nil {
		return existing
	}
	if existing == nil {
		return updates
	}
	merged := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row scannable) (*Task, error) {
	var (
		t             Task
		instructionID sql.NullString
		scheduledFor  sql.NullTime
		errMsg        sql.NullString
		meta          sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		cancelledAt   sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &instructionID, &t.Type, &t.Status, &t.Summary, &scheduledFor, &errMsg, &meta,
		&startedAt, &completedAt, &cancelledAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.InstructionID = instructionID.String
	t.ErrorMessage = errMsg.String
	t.Metadata = unmarshalJSON(meta)
	t.ScheduledFor = timePtr(scheduledFor)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.CancelledAt = timePtr(cancelledAt)
	return &t, nil
}

func scanStep(row scannable) (*Step, error) {
	var (
		step        Step
		input       sql.NullString
		output      sql.NullString
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&step.ID, &step.TaskID, &step.Index, &step.Title, &step.Status, &input, &output, &errMsg, &startedAt, &completedAt, &step.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan step: %w", err)
	}
	step.Input = unmarshalJSON(input)
	step.Output = unmarshalJSON(output)
	step.Error = errMsg.String
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)
	return &step, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
