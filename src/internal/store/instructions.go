package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type InstructionStatus string

const (
	InstructionActive   InstructionStatus = "active"
	InstructionPaused   InstructionStatus = "paused"
	InstructionArchived InstructionStatus = "archived"
)

// Instruction is a standing rule of the form "when X happens, do Y". The
// content is free text passed verbatim to the model as grounding.
// Instructions are archived rather than deleted.
type Instruction struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	Triggers        []string          `json:"triggers"`
	Status          InstructionStatus `json:"status"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	LastEvaluatedAt *time.Time        `json:"lastEvaluatedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// CreateInstruction persists a new instruction, assigning an id if unset.
// An active instruction must have at least one trigger.
func (s *Store) CreateInstruction(ctx context.Context, in *Instruction) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Status == "" {
		in.Status = InstructionActive
	}
	if in.Status == InstructionActive && len(in.Triggers) == 0 {
		return fmt.Errorf("active instruction %q must have at least one trigger", in.Title)
	}

	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now

	triggers, err := json.Marshal(in.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	meta, err := marshalJSON(in.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instructions (id, user_id, title, content, triggers, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.Title, in.Content, string(triggers), in.Status, meta, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create instruction: %w", err)
	}
	return nil
}

// UpdateInstructionStatus transitions an instruction between
// active/paused/archived. Activating an instruction with no triggers fails.
func (s *Store) UpdateInstructionStatus(ctx context.Context, id string, status InstructionStatus) error {
	if status == InstructionActive {
		in, err := s.GetInstruction(ctx, id)
		if err != nil {
			return err
		}
		if len(in.Triggers) == 0 {
			return fmt.Errorf("cannot activate instruction %s with no triggers", id)
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE instructions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update instruction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetInstruction(ctx context.Context, id string) (*Instruction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, triggers, status, metadata, last_evaluated_at, created_at, updated_at
		 FROM instructions WHERE id = ?`, id)
	return scanInstruction(row)
}

// ListInstructions returns a user's instructions, optionally filtered by
// status, newest first.
func (s *Store) ListInstructions(ctx context.Context, userID string, status InstructionStatus) ([]*Instruction, error) {
	query := `SELECT id, user_id, title, content, triggers, status, metadata, last_evaluated_at, created_at, updated_at
		FROM instructions WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instructions: %w", err)
	}
	defer rows.Close()

	var out []*Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ActiveInstructionsMatching returns the user's active instructions whose
// trigger list contains eventType (exact string match), in creation order.
// Matches fire independently with no priority between them.
func (s *Store) ActiveInstructionsMatching(ctx context.Context, userID, eventType string) ([]*Instruction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, triggers, status, metadata, last_evaluated_at, created_at, updated_at
		 FROM instructions WHERE user_id = ? AND status = ? ORDER BY created_at ASC`,
		userID, InstructionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active instructions: %w", err)
	}
	defer rows.Close()

	var matched []*Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		for _, trig := range in.Triggers {
			if trig == eventType {
				matched = append(matched, in)
				break
			}
		}
	}
	return matched, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInstruction(row scannable) (*Instruction, error) {
	var (
		in       Instruction
		triggers string
		meta     sql.NullString
		lastEval sql.NullTime
	)
	err := row.Scan(&in.ID, &in.UserID, &in.Title, &in.Content, &triggers, &in.Status, &meta, &lastEval, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instruction: %w", err)
	}
	if triggers != "" {
		if err := json.Unmarshal([]byte(triggers), &in.Triggers); err != nil {
			return nil, fmt.Errorf("failed to decode triggers: %w", err)
		}
	}
	in.Metadata = unmarshalJSON(meta)
	if lastEval.Valid {
		t := lastEval.Time
		in.LastEvaluatedAt = &t
	}
	return &in, nil
}

// Evaluation is the immutable audit record of one instruction/event match.
type Evaluation struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	InstructionID string         `json:"instructionId"`
	EventType     string         `json:"eventType"`
	EventPayload  map[string]any `json:"eventPayload,omitempty"`
	Outcome       string         `json:"outcome"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ListEvaluations returns a user's evaluation activity, newest first.
func (s *Store) ListEvaluations(ctx context.Context, userID string, limit int) ([]*Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction_id, event_type, event_payload, outcome, created_at
		 FROM instruction_evaluations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*Evaluation
	for rows.Next() {
		var (
			ev      Evaluation
			payload sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.InstructionID, &ev.EventType, &payload, &ev.Outcome, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		ev.EventPayload = unmarshalJSON(payload)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// NormalizeTriggers trims and deduplicates a trigger list, dropping blanks.
func NormalizeTriggers(triggers []string) []string {
	seen := make(map[string]bool, len(triggers))
	var out []string
	for _, t := range triggers {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
