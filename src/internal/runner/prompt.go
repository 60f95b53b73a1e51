package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"aria-core/src/internal/knowledge"
	"aria-core/src/internal/store"
)

func systemPrompt(task *store.Task, timeZone string) string {
	var sb strings.Builder
	sb.WriteString("You are an autonomous assistant working on behalf of a user. ")
	sb.WriteString("You complete one task at a time by reasoning over the provided context and calling tools when an action or lookup is needed. ")
	sb.WriteString("When the work is done, reply with a short plain-text summary of what you did.\n")
	fmt.Fprintf(&sb, "User id: %s. Task type: %s. User timezone: %s.", task.UserID, task.Type, timeZone)
	return sb.String()
}

// groundingPrompt concatenates everything the model needs to act: task
// identity, the originating instruction, accumulated metadata and context,
// the current step's input, and retrieved snippets.
func groundingPrompt(task *store.Task, instruction *store.Instruction, entries []*store.ContextEntry, step *store.Step, snippets []knowledge.Snippet) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### Task ###\nID: %s\nSummary: %s\n", task.ID, task.Summary)

	if instruction != nil {
		sb.WriteString("\n### Standing instruction ###\n")
		sb.WriteString(instruction.Content)
		sb.WriteString("\n")
	}

	if len(task.Metadata) > 0 {
		sb.WriteString("\n### Task metadata ###\n")
		writeJSONBlock(&sb, task.Metadata)
	}

	for _, entry := range entries {
		fmt.Fprintf(&sb, "\n### Context: %s ###\n", entry.Key)
		writeJSONBlock(&sb, entry.Value)
	}

	if len(step.Input) > 0 {
		fmt.Fprintf(&sb, "\n### Current step (%d: %s) ###\n", step.Index, step.Title)
		writeJSONBlock(&sb, step.Input)
	}

	if len(snippets) > 0 {
		sb.WriteString("\n### Retrieved context ###\n")
		for _, sn := range snippets {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", sn.Source, sn.Title, truncate(sn.Body, 300))
		}
	}

	sb.WriteString("\nWork on the task now.")
	return sb.String()
}

func writeJSONBlock(sb *strings.Builder, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(sb, "%v\n", v)
		return
	}
	sb.Write(b)
	sb.WriteString("\n")
}
