package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchInput describes one instruction/event match to record.
type MatchInput struct {
	UserID       string
	Instruction  *Instruction
	EventType    string
	EventPayload map[string]any
	OccurredAt   time.Time
}

// MatchResult reports the rows a recorded match created.
type MatchResult struct {
	EvaluationID string
	TaskID       string
	StepID       string
}

// RecordMatch writes everything one match produces - the evaluation audit
// row, the instruction's last_evaluated_at touch, the pending task, the
// "event" context entry, and the seed step - inside a single transaction.
// A partial write (evaluation recorded but no task) is never observable.
func (s *Store) RecordMatch(ctx context.Context, in MatchInput) (*MatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin match transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	evaluatedAt := in.OccurredAt
	if evaluatedAt.IsZero() || evaluatedAt.Before(now) {
		evaluatedAt = now
	}

	res := &MatchResult{
		EvaluationID: uuid.New().String(),
		TaskID:       uuid.New().String(),
		StepID:       uuid.New().String(),
	}

	payload, err := marshalJSON(in.EventPayload)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO instruction_evaluations (id, user_id, instruction_id, event_type, event_payload, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, 'matched', ?)`,
		res.EvaluationID, in.UserID, in.Instruction.ID, in.EventType, payload, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record evaluation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE instructions SET last_evaluated_at = ?, updated_at = ? WHERE id = ?`,
		evaluatedAt, now, in.Instruction.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to touch instruction: %w", err)
	}

	meta, err := marshalJSON(map[string]any{
		"instructionContent": in.Instruction.Content,
		"eventType":          in.EventType,
		"evaluationId":       res.EvaluationID,
	})
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_tasks (id, user_id, instruction_id, type, status, summary, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TaskID, in.UserID, in.Instruction.ID, TaskTypeInstruction, TaskPending, in.Instruction.Title, meta, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for match: %w", err)
	}

	if in.EventPayload != nil {
		payloadVal, err := marshalJSON(in.EventPayload)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_context (task_id, key, value, updated_at) VALUES (?, 'event', ?, ?)`,
			res.TaskID, payloadVal, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to write event context: %w", err)
		}
	}

	stepInput, err := json.Marshal(map[string]any{
		"instructionContent": in.Instruction.Content,
		"eventType":          in.EventType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal seed step input: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_steps (id, task_id, idx, title, status, input, created_at)
		 VALUES (?, ?, 0, 'Evaluate instruction', ?, ?, ?)`,
		res.StepID, res.TaskID, StepPending, string(stepInput), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create seed step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match: %w", err)
	}
	return res, nil
}
