// Package automation is the top-level periodic entry point: per user with
// connected integrations, run the sync adapters, evaluate the events they
// emit, and drive due tasks to completion.
package automation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"aria-core/src/internal/connect"
	"aria-core/src/internal/matcher"
	"aria-core/src/internal/runner"
	"aria-core/src/internal/store"
)

// SourceOutcome is either a sync count triple or an error, never both.
type SourceOutcome struct {
	Counts connect.SyncCounts
	Error  string
}

func (o SourceOutcome) MarshalJSON() ([]byte, error) {
	if o.Error != "" {
		return json.Marshal(map[string]string{"error": o.Error})
	}
	return json.Marshal(o.Counts)
}

func (o *SourceOutcome) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Error != "" {
		o.Error = probe.Error
		return nil
	}
	return json.Unmarshal(data, &o.Counts)
}

// UserOutcome is one user's slice of a cycle report. Per-source fields are
// present only when that source ran.
type UserOutcome struct {
	UserID       string             `json:"userId"`
	Integrations store.Integrations `json:"integrations"`
	Gmail        *SourceOutcome     `json:"gmail,omitempty"`
	Calendar     *SourceOutcome     `json:"calendar,omitempty"`
	Hubspot      *SourceOutcome     `json:"hubspot,omitempty"`
	Tasks        []runner.Outcome   `json:"tasks"`
}

type Report struct {
	UsersProcessed int           `json:"usersProcessed"`
	Outcomes       []UserOutcome `json:"outcomes"`
}

// CycleOptions narrow a cycle to one user and/or cap the task batch.
type CycleOptions struct {
	UserID    string `json:"userId,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type Orchestrator struct {
	store     *store.Store
	matcher   *matcher.Matcher
	runner    *runner.Runner
	sources   []connect.SyncSource
	batchSize int
	now       func() time.Time
}

func NewOrchestrator(st *store.Store, m *matcher.Matcher, r *runner.Runner, sources []connect.SyncSource, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Orchestrator{
		store:     st,
		matcher:   m,
		runner:    r,
		sources:   sources,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// SetRunner wires the task runner after construction. The runner streams
// tokens through the API server, which in turn needs the orchestrator, so
// one of the two is attached late.
func (o *Orchestrator) SetRunner(r *runner.Runner) {
	o.runner = r
}

// RunCycle processes users sequentially, one task at a time: tool calls and
// model round-trips are I/O-bound already, and sequential processing keeps
// external rate limits predictable. Overlapping cycle invocations are safe
// because task claiming is a row-level conditional update.
func (o *Orchestrator) RunCycle(ctx context.Context, opts CycleOptions) (*Report, error) {
	users, err := o.cycleUsers(ctx, opts.UserID)
	if err != nil {
		return nil, err
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = o.batchSize
	}

	report := &Report{}
	for _, user := range users {
		outcome := o.processUser(ctx, user, batch)
		report.Outcomes = append(report.Outcomes, outcome)
		report.UsersProcessed++
	}
	slog.Info("automation cycle finished", "users", report.UsersProcessed)
	return report, nil
}

func (o *Orchestrator) cycleUsers(ctx context.Context, userID string) ([]store.Integrations, error) {
	if userID != "" {
		ui, err := o.store.GetIntegrations(ctx, userID)
		if err != nil {
			return nil, err
		}
		return []store.Integrations{ui}, nil
	}
	return o.store.ListConnectedUsers(ctx)
}

// processUser runs each connected source, fans emitted events through the
// matcher, then executes the user's due tasks. A failing source records its
// error and the cycle moves on; nothing here aborts other sources, other
// tasks, or other users.
func (o *Orchestrator) processUser(ctx context.Context, user store.Integrations, batch int) UserOutcome {
	outcome := UserOutcome{UserID: user.UserID, Integrations: user, Tasks: []runner.Outcome{}}

	for _, src := range o.sources {
		if !providerConnected(user, src.Provider()) {
			continue
		}
		sourceOutcome := o.syncSource(ctx, src, user.UserID)
		switch src.Name() {
		case "gmail":
			outcome.Gmail = sourceOutcome
		case "calendar":
			outcome.Calendar = sourceOutcome
		case "hubspot":
			outcome.Hubspot = sourceOutcome
		}
	}

	due, err := o.store.ListDueTasks(ctx, user.UserID, o.now(), batch)
	if err != nil {
		slog.Error("failed to list due tasks", "user", user.UserID, "error", err)
		return outcome
	}
	for _, task := range due {
		outcome.Tasks = append(outcome.Tasks, o.runner.RunTask(ctx, task.ID))
	}
	return outcome
}

func (o *Orchestrator) syncSource(ctx context.Context, src connect.SyncSource, userID string) *SourceOutcome {
	counts, evs, err := src.Sync(ctx, userID)
	if err != nil {
		slog.Warn("sync source failed", "source", src.Name(), "user", userID, "error", err)
		return &SourceOutcome{Error: err.Error()}
	}
	for _, ev := range evs {
		if _, err := o.matcher.Evaluate(ctx, userID, ev); err != nil {
			// Matching failures do not undo the sync; they only cost the
			// event its instruction fan-out.
			slog.Error("event evaluation failed", "source", src.Name(), "user", userID, "event_type", ev.Type, "error", err)
		}
	}
	return &SourceOutcome{Counts: counts}
}

func providerConnected(user store.Integrations, provider string) bool {
	switch provider {
	case "google":
		return user.Google
	case "hubspot":
		return user.Hubspot
	}
	return false
}
