package tools

import (
	"context"
	"fmt"
	"time"

	"aria-core/src/internal/knowledge"
)

// searchKnowledgeTool is read-only retrieval over the user's synced
// records: exact substring, semantic similarity, or a date window.
func searchKnowledgeTool(d Deps) Tool {
	return Tool{
		Name:        "searchKnowledge",
		Description: "Search the user's synced emails, calendar events, and contacts. Mode 'exact' matches substrings, 'semantic' ranks by meaning, 'date' filters a time window.",
		Parameters: objectSchema(map[string]any{
			"query": stringProp("Search text; optional for date mode"),
			"mode":  enumProp("Search mode", "exact", "semantic", "date"),
			"from":  stringProp("Window start, RFC 3339 (date mode)"),
			"to":    stringProp("Window end, RFC 3339 (date mode)"),
			"limit": numberProp("Maximum results, default 10"),
		}, "mode"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			mode := strArg(input, "mode")
			query := strArg(input, "query")
			limit := intArg(input, "limit", 10)

			var from, to *time.Time
			if s := strArg(input, "from"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, fmt.Errorf("from: %w", err)
				}
				from = &t
			}
			if s := strArg(input, "to"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, fmt.Errorf("to: %w", err)
				}
				to = &t
			}

			snippets, err := d.Knowledge.Search(ctx, knowledge.Query{
				UserID: call.UserID,
				Text:   query,
				Mode:   mode,
				From:   from,
				To:     to,
				Limit:  limit,
			})
			if err != nil {
				return nil, fmt.Errorf("search knowledge: %w", err)
			}
			return map[string]any{"snippets": snippets, "count": len(snippets)}, nil
		},
	}
}
