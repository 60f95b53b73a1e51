// Package runner drives claimed agent tasks to completion through bounded
// model iteration and tool execution.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aria-core/src/internal/knowledge"
	"aria-core/src/internal/llm"
	"aria-core/src/internal/store"
	"aria-core/src/internal/tools"
)

// DefaultMaxRounds bounds the model round-trips per task run.
const DefaultMaxRounds = 6

// budgetExhaustedNotice is the fallback answer when the model never
// produced a final message within the round budget.
const budgetExhaustedNotice = "The task reached its processing limit. All completed tool actions have been applied; remaining work was recorded for review."

type Runner struct {
	store       *store.Store
	streamer    llm.Streamer
	registry    *tools.Registry
	executor    *tools.Executor
	knowledge   *knowledge.Searcher
	maxRounds   int
	defaultZone string
	now         func() time.Time
	onToken     func(taskID, token string)
}

type Options struct {
	MaxRounds       int
	DefaultTimeZone string
	Now             func() time.Time
	// OnToken receives live answer tokens for display; nil disables
	// forwarding.
	OnToken func(taskID, token string)
}

func New(st *store.Store, streamer llm.Streamer, reg *tools.Registry, search *knowledge.Searcher, opts Options) *Runner {
	r := &Runner{
		store:       st,
		streamer:    streamer,
		registry:    reg,
		executor:    tools.NewExecutor(reg),
		knowledge:   search,
		maxRounds:   opts.MaxRounds,
		defaultZone: opts.DefaultTimeZone,
		now:         opts.Now,
		onToken:     opts.OnToken,
	}
	if r.maxRounds <= 0 {
		r.maxRounds = DefaultMaxRounds
	}
	if r.defaultZone == "" {
		r.defaultZone = "UTC"
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Outcome is the per-task entry in a cycle report.
type Outcome struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"` // completed | failed | skipped
	Error  string `json:"error,omitempty"`
}

// RunTask claims and executes one task. A lost claim race reports skipped.
// Any failure after a successful claim marks the task failed and fails any
// step left running, so a task is never left claimed-but-stuck.
func (r *Runner) RunTask(ctx context.Context, taskID string) Outcome {
	claimed, err := r.store.ClaimTask(ctx, taskID)
	if err != nil {
		return Outcome{TaskID: taskID, Status: "failed", Error: err.Error()}
	}
	if !claimed {
		slog.Debug("task claim lost, skipping", "task", taskID)
		return Outcome{TaskID: taskID, Status: "skipped"}
	}

	if err := r.execute(ctx, taskID); err != nil {
		slog.Warn("task failed", "task", taskID, "error", err)
		r.markFailed(ctx, taskID, err)
		return Outcome{TaskID: taskID, Status: "failed", Error: err.Error()}
	}
	return Outcome{TaskID: taskID, Status: "completed"}
}

func (r *Runner) execute(ctx context.Context, taskID string) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	var instruction *store.Instruction
	if task.InstructionID != "" {
		instruction, err = r.store.GetInstruction(ctx, task.InstructionID)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("load instruction: %w", err)
		}
	}
	entries, err := r.store.ListTaskContext(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load task context: %w", err)
	}

	step, err := r.store.NextStep(ctx, task, nil)
	if err != nil {
		return fmt.Errorf("select step: %w", err)
	}
	if step.Status == store.StepPending {
		if err := r.store.StartStep(ctx, step.ID); err != nil {
			return fmt.Errorf("start step: %w", err)
		}
	}

	snippets := r.knowledge.TopK(ctx, task.UserID, task.Summary, 5)
	messages := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: systemPrompt(task, r.timeZone(task))},
		{Role: llm.RoleUser, Content: groundingPrompt(task, instruction, entries, step, snippets)},
	}

	call := tools.CallContext{UserID: task.UserID, TaskID: task.ID, TimeZone: r.timeZone(task)}
	specs := r.registry.Specs()

	answer := ""
	answered := false
	rounds := 0
	for rounds < r.maxRounds {
		rounds++
		result, err := llm.RunIteration(ctx, r.streamer, messages, specs, r.tokenSink(task.ID))
		if err != nil {
			return fmt.Errorf("model iteration %d: %w", rounds, err)
		}

		if result.Kind == llm.IterationMessage {
			answer = result.Content
			answered = true
			break
		}

		// Execute every requested tool and feed both sides of the
		// exchange back into the conversation.
		messages = append(messages, llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, tc := range result.ToolCalls {
			res := r.executor.Execute(ctx, call, tc.Name, tc.Arguments)
			slog.Info("tool executed", "task", task.ID, "tool", tc.Name, "success", res.Success)
			messages = append(messages, llm.ChatMessage{
				Role:       llm.RoleTool,
				Content:    res.JSON(),
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}
	// Only a loop that ran out of rounds gets the fallback notice; a model
	// that answered with empty content is persisted as-is.
	if !answered {
		answer = budgetExhaustedNotice
	}

	if err := r.store.FinishStep(ctx, step.ID, store.StepCompleted, map[string]any{"answer": answer}, ""); err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	if err := r.store.FinishTask(ctx, task.ID, store.TaskCompleted, "", map[string]any{"rounds": rounds}); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if err := r.store.UpdateTaskSummary(ctx, task.ID, truncate(answer, 200)); err != nil {
		return fmt.Errorf("update task summary: %w", err)
	}
	return nil
}

// markFailed is best effort: the error being recorded matters more than any
// secondary write failure.
func (r *Runner) markFailed(ctx context.Context, taskID string, cause error) {
	if err := r.store.FinishTask(ctx, taskID, store.TaskFailed, cause.Error(), nil); err != nil {
		slog.Error("failed to mark task failed", "task", taskID, "error", err)
	}
	if err := r.store.FailRunningSteps(ctx, taskID, cause.Error()); err != nil {
		slog.Error("failed to fail running steps", "task", taskID, "error", err)
	}
}

func (r *Runner) timeZone(task *store.Task) string {
	if tz, ok := task.Metadata["timezone"].(string); ok && tz != "" {
		return tz
	}
	return r.defaultZone
}

func (r *Runner) tokenSink(taskID string) func(string) {
	if r.onToken == nil {
		return nil
	}
	return func(token string) {
		r.onToken(taskID, token)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
