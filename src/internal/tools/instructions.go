package tools

import (
	"context"
	"fmt"

	"aria-core/src/internal/store"
)

// storeInstructionTool lets the model persist a new standing rule the user
// asked for mid-conversation.
func storeInstructionTool(d Deps) Tool {
	return Tool{
		Name:        "storeInstruction",
		Description: "Store a standing instruction that fires on future events. Triggers are event-type strings such as gmail.message_created.",
		Parameters: objectSchema(map[string]any{
			"title":    stringProp("Short instruction title"),
			"content":  stringProp("The rule body in natural language"),
			"triggers": stringArrayProp("Event types that fire this instruction"),
		}, "title", "content", "triggers"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			triggers := store.NormalizeTriggers(strSliceArg(input, "triggers"))
			if len(triggers) == 0 {
				return nil, fmt.Errorf("at least one trigger is required")
			}
			in := &store.Instruction{
				UserID:   call.UserID,
				Title:    strArg(input, "title"),
				Content:  strArg(input, "content"),
				Triggers: triggers,
				Status:   store.InstructionActive,
			}
			if err := d.Store.CreateInstruction(ctx, in); err != nil {
				return nil, fmt.Errorf("store instruction: %w", err)
			}
			return map[string]any{"instructionId": in.ID, "title": in.Title, "triggers": triggers}, nil
		},
	}
}

func listInstructionsTool(d Deps) Tool {
	return Tool{
		Name:        "listInstructions",
		Description: "List the user's standing instructions, optionally filtered by status.",
		Parameters: objectSchema(map[string]any{
			"status": enumProp("Filter by status", "active", "paused", "archived"),
		}),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			status := store.InstructionStatus(strArg(input, "status"))
			list, err := d.Store.ListInstructions(ctx, call.UserID, status)
			if err != nil {
				return nil, fmt.Errorf("list instructions: %w", err)
			}
			summaries := make([]map[string]any, 0, len(list))
			for _, in := range list {
				summaries = append(summaries, map[string]any{
					"id":       in.ID,
					"title":    in.Title,
					"status":   in.Status,
					"triggers": in.Triggers,
				})
			}
			return map[string]any{"instructions": summaries, "count": len(summaries)}, nil
		},
	}
}
