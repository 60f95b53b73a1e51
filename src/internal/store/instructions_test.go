package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCreateInstructionRequiresTriggers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.CreateInstruction(ctx, &Instruction{
		UserID:  "user-1",
		Title:   "no triggers",
		Content: "do nothing",
	})
	if err == nil {
		t.Fatal("expected active instruction without triggers to be rejected")
	}

	// Paused instructions may sit without triggers.
	err = s.CreateInstruction(ctx, &Instruction{
		UserID:  "user-1",
		Title:   "draft",
		Content: "do nothing yet",
		Status:  InstructionPaused,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateInstructionStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := &Instruction{
		UserID:   "user-1",
		Title:    "greeter",
		Content:  "reply to new emails",
		Triggers: []string{"gmail.message_created"},
	}
	if err := s.CreateInstruction(ctx, in); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateInstructionStatus(ctx, in.ID, InstructionPaused); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetInstruction(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != InstructionPaused {
		t.Errorf("expected paused, got %s", got.Status)
	}

	if err := s.UpdateInstructionStatus(ctx, in.ID, InstructionActive); err != nil {
		t.Fatal(err)
	}

	err = s.UpdateInstructionStatus(ctx, "missing", InstructionArchived)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// A triggerless draft cannot be activated.
	draft := &Instruction{UserID: "user-1", Title: "draft", Content: "x", Status: InstructionPaused}
	if err := s.CreateInstruction(ctx, draft); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateInstructionStatus(ctx, draft.ID, InstructionActive); err == nil {
		t.Error("expected activation without triggers to fail")
	}
}

func TestActiveInstructionsMatching(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mk := func(title string, status InstructionStatus, triggers ...string) *Instruction {
		in := &Instruction{UserID: "user-1", Title: title, Content: title, Status: status, Triggers: triggers}
		if err := s.CreateInstruction(ctx, in); err != nil {
			t.Fatal(err)
		}
		// created_at has second precision in some drivers; keep ordering
		// deterministic.
		time.Sleep(2 * time.Millisecond)
		return in
	}

	first := mk("first", InstructionActive, "gmail.message_created")
	mk("paused", InstructionPaused, "gmail.message_created")
	mk("other event", InstructionActive, "hubspot.contact_created")
	second := mk("second", InstructionActive, "calendar.event_created", "gmail.message_created")

	otherUser := &Instruction{UserID: "user-2", Title: "foreign", Content: "x", Triggers: []string{"gmail.message_created"}}
	if err := s.CreateInstruction(ctx, otherUser); err != nil {
		t.Fatal(err)
	}

	matched, err := s.ActiveInstructionsMatching(ctx, "user-1", "gmail.message_created")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matched))
	}
	if matched[0].ID != first.ID {
		t.Error("expected creation order, oldest first")
	}
	if matched[1].ID != second.ID {
		t.Error("expected newest match last")
	}

	// Exact equality only; no prefix or wildcard matching.
	matched, err = s.ActiveInstructionsMatching(ctx, "user-1", "gmail.message")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 0 {
		t.Errorf("expected no matches for partial event type, got %d", len(matched))
	}
}

func TestNormalizeTriggers(t *testing.T) {
	got := NormalizeTriggers([]string{" gmail.message_created ", "", "gmail.message_created", "calendar.event_created"})
	want := []string{"gmail.message_created", "calendar.event_created"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if NormalizeTriggers(nil) != nil {
		t.Error("expected nil for empty input")
	}
}
