package tools

import (
	"context"
	"fmt"
	"time"

	"aria-core/src/internal/store"
)

// resolveLocation picks the follow-up timezone: the explicit argument wins,
// then the conversation's resolved client timezone, then UTC.
func resolveLocation(explicit, callTZ string) *time.Location {
	for _, name := range []string{explicit, callTZ} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ResolveRunAt guarantees a follow-up is never scheduled in the past. A
// future runAt is used verbatim. A past-or-now runAt keeps only its
// time-of-day, reinterpreted against today's date in loc; if that instant
// has also passed, against tomorrow's. The discarded date component is the
// model's mistake, not the user's intent, so the adjustment is reported for
// auditing rather than treated as an error.
func ResolveRunAt(runAt, now time.Time, loc *time.Location) (time.Time, bool) {
	if runAt.After(now) {
		return runAt, false
	}

	local := runAt.In(loc)
	today := now.In(loc)
	candidate := time.Date(today.Year(), today.Month(), today.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

// scheduleFollowUpTaskTool creates a future task. Not idempotent: each
// call creates a new task.
func scheduleFollowUpTaskTool(d Deps) Tool {
	return Tool{
		Name:        "scheduleFollowUpTask",
		Description: "Schedule a follow-up task to run at a future time. Past times are moved to the same time of day today or tomorrow.",
		Parameters: objectSchema(map[string]any{
			"summary":  stringProp("What the follow-up task should do"),
			"runAt":    stringProp("Target run time, RFC 3339"),
			"timezone": stringProp("IANA timezone for interpreting runAt, e.g. Europe/Berlin"),
			"metadata": objectProp("Extra context to attach to the task"),
		}, "summary", "runAt"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			loc := resolveLocation(strArg(input, "timezone"), call.TimeZone)
			requested, err := parseWhen(strArg(input, "runAt"), loc)
			if err != nil {
				return nil, fmt.Errorf("runAt: %w", err)
			}

			now := d.now()
			runAt, adjusted := ResolveRunAt(requested, now, loc)

			meta := store.MergeMetadata(mapArg(input, "metadata"), map[string]any{
				"scheduledBy": "scheduleFollowUpTask",
			})
			if call.TaskID != "" {
				meta = store.MergeMetadata(meta, map[string]any{"parentTaskId": call.TaskID})
			}
			if adjusted {
				meta = store.MergeMetadata(meta, map[string]any{
					"requestedRunAt": requested.Format(time.RFC3339),
					"adjustedRunAt":  runAt.Format(time.RFC3339),
				})
			}

			task := &store.Task{
				UserID:       call.UserID,
				Type:         store.TaskTypeFollowUp,
				Summary:      strArg(input, "summary"),
				ScheduledFor: &runAt,
				Metadata:     meta,
			}
			if err := d.Store.CreateTask(ctx, task); err != nil {
				return nil, fmt.Errorf("schedule follow-up: %w", err)
			}
			return map[string]any{
				"taskId":   task.ID,
				"runAt":    runAt.Format(time.RFC3339),
				"adjusted": adjusted,
			}, nil
		},
	}
}
