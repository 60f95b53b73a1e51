// Package matcher evaluates incoming sync events against a user's standing
// instructions and fans matched instructions out into pending agent tasks.
package matcher

import (
	"context"
	"fmt"
	"log/slog"

	"aria-core/src/internal/events"
	"aria-core/src/internal/store"
)

type Matcher struct {
	store *store.Store
}

func New(st *store.Store) *Matcher {
	return &Matcher{store: st}
}

// Match records one instruction that fired for an event.
type Match struct {
	InstructionID string `json:"instructionId"`
	TaskID        string `json:"taskId"`
}

// Evaluate finds the user's active instructions whose trigger set contains
// the event type and, per match, atomically records an evaluation and
// spawns a pending task with its seed step. All matched instructions fire
// independently; repeated identical events fan out fresh tasks every time.
func (m *Matcher) Evaluate(ctx context.Context, userID string, ev events.Event) ([]Match, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("event type is required")
	}

	matched, err := m.store.ActiveInstructionsMatching(ctx, userID, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("load instructions for %s: %w", userID, err)
	}

	var out []Match
	for _, in := range matched {
		res, err := m.store.RecordMatch(ctx, store.MatchInput{
			UserID:       userID,
			Instruction:  in,
			EventType:    ev.Type,
			EventPayload: ev.Payload,
			OccurredAt:   ev.OccurredAt,
		})
		if err != nil {
			return out, fmt.Errorf("record match for instruction %s: %w", in.ID, err)
		}
		slog.Info("instruction matched", "user", userID, "instruction", in.ID, "event_type", ev.Type, "task", res.TaskID)
		out = append(out, Match{InstructionID: in.ID, TaskID: res.TaskID})
	}
	return out, nil
}
