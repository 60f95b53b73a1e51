package matcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aria-core/src/internal/events"
	"aria-core/src/internal/store"
)

func testSetup(t *testing.T) (*store.Store, *Matcher) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, New(s)
}

func TestEvaluateMatchedInstruction(t *testing.T) {
	s, m := testSetup(t)
	ctx := context.Background()

	in := &store.Instruction{
		UserID:   "user-1",
		Title:    "Reply to new emails",
		Content:  "When a new email arrives, draft a polite reply.",
		Triggers: []string{"gmail.message_created"},
	}
	if err := s.CreateInstruction(ctx, in); err != nil {
		t.Fatal(err)
	}

	ev := events.Event{
		Type:       events.TypeGmailMessageCreated,
		Payload:    map[string]any{"subject": "hello", "from": "a@example.com"},
		OccurredAt: time.Now().UTC(),
	}
	matches, err := m.Evaluate(ctx, "user-1", ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].InstructionID != in.ID {
		t.Errorf("unexpected instruction: %s", matches[0].InstructionID)
	}

	task, err := s.GetTask(ctx, matches[0].TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != store.TaskPending {
		t.Errorf("expected pending task, got %s", task.Status)
	}
	if task.Type != store.TaskTypeInstruction {
		t.Errorf("expected instruction task, got %s", task.Type)
	}
	if task.Summary != in.Title {
		t.Errorf("expected summary %q, got %q", in.Title, task.Summary)
	}
	if task.Metadata["instructionContent"] != in.Content {
		t.Error("expected instruction content in metadata")
	}
	if task.Metadata["eventType"] != ev.Type {
		t.Error("expected event type in metadata")
	}

	steps, err := s.ListTaskSteps(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Index != 0 {
		t.Fatalf("expected one seed step at index 0, got %v", steps)
	}
	if steps[0].Title != "Evaluate instruction" {
		t.Errorf("unexpected seed step title %q", steps[0].Title)
	}

	entries, err := s.ListTaskContext(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Key != "event" {
		t.Fatalf("expected one event context entry, got %v", entries)
	}
	if entries[0].Value["subject"] != "hello" {
		t.Errorf("expected event payload snapshot, got %v", entries[0].Value)
	}

	evals, err := s.ListEvaluations(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].Outcome != "matched" {
		t.Fatalf("expected one matched evaluation, got %v", evals)
	}

	got, err := s.GetInstruction(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastEvaluatedAt == nil {
		t.Error("expected lastEvaluatedAt to be set")
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	s, m := testSetup(t)
	ctx := context.Background()

	paused := &store.Instruction{
		UserID:   "user-1",
		Title:    "paused",
		Content:  "x",
		Status:   store.InstructionPaused,
		Triggers: []string{"gmail.message_created"},
	}
	if err := s.CreateInstruction(ctx, paused); err != nil {
		t.Fatal(err)
	}
	other := &store.Instruction{
		UserID:   "user-1",
		Title:    "different trigger",
		Content:  "x",
		Triggers: []string{"hubspot.contact_created"},
	}
	if err := s.CreateInstruction(ctx, other); err != nil {
		t.Fatal(err)
	}

	matches, err := m.Evaluate(ctx, "user-1", events.Event{Type: events.TypeGmailMessageCreated})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}

	tasks, err := s.ListTasks(ctx, "user-1", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(tasks))
	}
	evals, err := s.ListEvaluations(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 0 {
		t.Errorf("expected no evaluation rows for non-matches, got %d", len(evals))
	}
}

func TestEvaluateRepeatedEventFansOutEveryTime(t *testing.T) {
	s, m := testSetup(t)
	ctx := context.Background()

	in := &store.Instruction{
		UserID:   "user-1",
		Title:    "every time",
		Content:  "x",
		Triggers: []string{"calendar.event_created"},
	}
	if err := s.CreateInstruction(ctx, in); err != nil {
		t.Fatal(err)
	}

	ev := events.Event{Type: events.TypeCalendarEventCreated, Payload: map[string]any{"id": "evt-1"}}
	for i := 0; i < 3; i++ {
		if _, err := m.Evaluate(ctx, "user-1", ev); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := s.ListTasks(ctx, "user-1", store.TaskPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Errorf("expected 3 tasks with no dedup, got %d", len(tasks))
	}
}

func TestEvaluateRequiresEventType(t *testing.T) {
	_, m := testSetup(t)
	if _, err := m.Evaluate(context.Background(), "user-1", events.Event{}); err == nil {
		t.Fatal("expected error for empty event type")
	}
}
