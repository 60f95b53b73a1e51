package runner

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"aria-core/src/internal/connect"
	"aria-core/src/internal/knowledge"
	"aria-core/src/internal/llm"
	"aria-core/src/internal/store"
	"aria-core/src/internal/tools"
)

// scriptedStreamer replays one chunk sequence per model round and records
// the conversation it was handed each time.
type scriptedStreamer struct {
	rounds   [][]llm.Chunk
	call     int
	captured [][]llm.ChatMessage
}

func (s *scriptedStreamer) StreamCompletion(ctx context.Context, messages []llm.ChatMessage, specs []llm.ToolSpec) (llm.Stream, error) {
	s.captured = append(s.captured, append([]llm.ChatMessage(nil), messages...))
	var chunks []llm.Chunk
	if s.call < len(s.rounds) {
		chunks = s.rounds[s.call]
	}
	s.call++
	return &replayStream{chunks: chunks}, nil
}

type replayStream struct {
	chunks []llm.Chunk
	pos    int
}

func (r *replayStream) Recv() (llm.Chunk, error) {
	if r.pos >= len(r.chunks) {
		return llm.Chunk{}, io.EOF
	}
	c := r.chunks[r.pos]
	r.pos++
	return c, nil
}

func (r *replayStream) Close() {}

func messageRound(text string) []llm.Chunk {
	return []llm.Chunk{{ContentDelta: text}, {FinishReason: "stop"}}
}

func toolRound(name, args string) []llm.Chunk {
	return []llm.Chunk{
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "call_" + name, Name: name, ArgumentsDelta: args}}},
		{FinishReason: llm.FinishReasonToolCalls},
	}
}

func testRunner(t *testing.T, streamer llm.Streamer, opts Options) (*store.Store, *Runner) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	reg := tools.DefaultRegistry(tools.Deps{
		Store:     s,
		Mail:      connect.UnconfiguredMail{},
		Calendar:  connect.UnconfiguredCalendar{},
		CRM:       connect.UnconfiguredCRM{},
		Knowledge: knowledge.NewSearcher(s, nil),
	})
	return s, New(s, streamer, reg, knowledge.NewSearcher(s, nil), opts)
}

func seedTask(t *testing.T, s *store.Store, summary string) *store.Task {
	t.Helper()
	task := &store.Task{UserID: "user-1", Type: store.TaskTypeManual, Summary: summary}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestRunTaskCompletesOnFirstMessage(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Chunk{
		messageRound("Done: sent a summary of today's meetings."),
	}}
	s, r := testRunner(t, streamer, Options{})
	task := seedTask(t, s, "Summarize today")

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %+v", outcome)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskCompleted {
		t.Errorf("expected completed task, got %s", got.Status)
	}
	if got.Summary != "Done: sent a summary of today's meetings." {
		t.Errorf("expected summary from answer, got %q", got.Summary)
	}
	if got.Metadata["rounds"] != float64(1) {
		t.Errorf("expected 1 round recorded, got %v", got.Metadata["rounds"])
	}

	steps, err := s.ListTaskSteps(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Status != store.StepCompleted {
		t.Fatalf("expected one completed step, got %v", steps)
	}
	if steps[0].Output["answer"] != "Done: sent a summary of today's meetings." {
		t.Errorf("expected answer in step output, got %v", steps[0].Output)
	}
}

func TestRunTaskFeedsToolErrorBackAndContinues(t *testing.T) {
	// sendEmail fails (mail unconfigured); the error envelope must go back
	// into the conversation and the loop must continue to a final answer.
	streamer := &scriptedStreamer{rounds: [][]llm.Chunk{
		toolRound("sendEmail", `{"to":["a@example.com"],"subject":"hi","body":"hello"}`),
		messageRound("Could not send the email: mail is not configured."),
	}}
	s, r := testRunner(t, streamer, Options{})
	task := seedTask(t, s, "Send greeting")

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %+v", outcome)
	}

	if len(streamer.captured) != 2 {
		t.Fatalf("expected 2 model rounds, got %d", len(streamer.captured))
	}
	second := streamer.captured[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.Name != "sendEmail" {
		t.Fatalf("expected trailing tool message, got %+v", last)
	}
	if !strings.Contains(last.Content, `"success":false`) {
		t.Errorf("expected error envelope in conversation, got %s", last.Content)
	}
	if !strings.Contains(last.Content, "not configured") {
		t.Errorf("expected handler error text, got %s", last.Content)
	}
	assistant := second[len(second)-2]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("expected assistant tool-call message before tool result, got %+v", assistant)
	}
}

func TestRunTaskSkipsLostClaim(t *testing.T) {
	streamer := &scriptedStreamer{}
	s, r := testRunner(t, streamer, Options{})
	task := seedTask(t, s, "already done")
	if err := s.FinishTask(context.Background(), task.ID, store.TaskCompleted, "", nil); err != nil {
		t.Fatal(err)
	}

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "skipped" {
		t.Fatalf("expected skipped, got %+v", outcome)
	}
	if streamer.call != 0 {
		t.Error("skipped task must not reach the model")
	}
}

func TestRunTaskBudgetExhaustion(t *testing.T) {
	// The model asks for a harmless read-only tool forever.
	rounds := make([][]llm.Chunk, 8)
	for i := range rounds {
		rounds[i] = toolRound("listInstructions", `{}`)
	}
	streamer := &scriptedStreamer{rounds: rounds}
	s, r := testRunner(t, streamer, Options{MaxRounds: 3})
	task := seedTask(t, s, "spin")

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "completed" {
		t.Fatalf("expected completed on budget exhaustion, got %+v", outcome)
	}
	if streamer.call != 3 {
		t.Errorf("expected exactly 3 rounds, got %d", streamer.call)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != budgetExhaustedNotice {
		t.Errorf("expected generic notice summary, got %q", got.Summary)
	}
}

func TestRunTaskEmptyAnswerIsNotExhaustion(t *testing.T) {
	// A model that answers with empty content within budget keeps that
	// empty answer; the fallback notice is for exhausted loops only.
	streamer := &scriptedStreamer{rounds: [][]llm.Chunk{
		messageRound(""),
	}}
	s, r := testRunner(t, streamer, Options{MaxRounds: 3})
	task := seedTask(t, s, "quiet")

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %+v", outcome)
	}
	if streamer.call != 1 {
		t.Errorf("expected a single round, got %d", streamer.call)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary == budgetExhaustedNotice {
		t.Errorf("empty answer must not be reported as budget exhaustion")
	}
	if got.Summary != "" {
		t.Errorf("expected empty summary preserved, got %q", got.Summary)
	}

	steps, err := s.ListTaskSteps(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected one step, got %d", len(steps))
	}
	if ans, ok := steps[0].Output["answer"]; !ok || ans != "" {
		t.Errorf("expected empty answer recorded in step output, got %v", steps[0].Output)
	}
}

func TestRunTaskModelFailureMarksFailed(t *testing.T) {
	s, r := testRunner(t, llm.Unavailable{}, Options{})
	task := seedTask(t, s, "doomed")

	outcome := r.RunTask(context.Background(), task.ID)
	if outcome.Status != "failed" {
		t.Fatalf("expected failed, got %+v", outcome)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskFailed {
		t.Errorf("expected failed task, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("expected error message recorded")
	}

	// The claimed step must not be left running.
	steps, err := s.ListTaskSteps(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range steps {
		if step.Status == store.StepRunning {
			t.Error("step left running after failure")
		}
	}
}

func TestRunTaskStreamsTokens(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Chunk{
		{{ContentDelta: "All "}, {ContentDelta: "set."}, {FinishReason: "stop"}},
	}}
	var tokens []string
	var tokenTask string
	s, r := testRunner(t, streamer, Options{OnToken: func(taskID, tok string) {
		tokenTask = taskID
		tokens = append(tokens, tok)
	}})
	task := seedTask(t, s, "stream me")

	if outcome := r.RunTask(context.Background(), task.ID); outcome.Status != "completed" {
		t.Fatalf("expected completed, got %+v", outcome)
	}
	if tokenTask != task.ID {
		t.Errorf("tokens attributed to %q, want %q", tokenTask, task.ID)
	}
	if strings.Join(tokens, "") != "All set." {
		t.Errorf("unexpected tokens %v", tokens)
	}
}
