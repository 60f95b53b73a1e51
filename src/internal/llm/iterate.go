package llm

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

type IterationKind string

const (
	// IterationToolCalls means the model requested tool invocations.
	IterationToolCalls IterationKind = "tool_calls"
	// IterationMessage means the model produced a final textual answer.
	IterationMessage IterationKind = "message"
)

// IterationResult is one of the two terminal shapes a completion call can
// take: a set of complete tool calls, or a plain-text answer.
type IterationResult struct {
	Kind      IterationKind
	Content   string
	ToolCalls []ToolCall
}

// fragment reassembles one tool call from streamed deltas keyed by index.
type fragment struct {
	id   string
	name string
	args strings.Builder
}

// RunIteration consumes one token-streamed completion. Text deltas are
// accumulated into content and forwarded to onToken for live display, but
// only while no tool call has streamed yet: once the model starts composing
// a function call, later text in the same turn is not a user-facing reply.
// Tool-call fragments are reassembled by index and finalized at stream end.
func RunIteration(ctx context.Context, s Streamer, messages []ChatMessage, tools []ToolSpec, onToken func(string)) (*IterationResult, error) {
	stream, err := s.StreamCompletion(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		content      strings.Builder
		fragments    = make(map[int]*fragment)
		sawToolCall  bool
		finishReason string
	)

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("completion stream failed: %w", err)
		}

		for _, delta := range chunk.ToolCalls {
			sawToolCall = true
			frag, ok := fragments[delta.Index]
			if !ok {
				frag = &fragment{}
				fragments[delta.Index] = frag
			}
			if delta.ID != "" {
				frag.id = delta.ID
			}
			if delta.Name != "" {
				frag.name = delta.Name
			}
			frag.args.WriteString(delta.ArgumentsDelta)
		}

		if chunk.ContentDelta != "" {
			content.WriteString(chunk.ContentDelta)
			if onToken != nil && !sawToolCall {
				onToken(chunk.ContentDelta)
			}
		}

		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	if sawToolCall || finishReason == FinishReasonToolCalls {
		indexes := make([]int, 0, len(fragments))
		for idx := range fragments {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)

		calls := make([]ToolCall, 0, len(indexes))
		for _, idx := range indexes {
			frag := fragments[idx]
			calls = append(calls, ToolCall{
				ID:        frag.id,
				Name:      frag.name,
				Arguments: frag.args.String(),
			})
		}
		return &IterationResult{Kind: IterationToolCalls, Content: content.String(), ToolCalls: calls}, nil
	}

	return &IterationResult{Kind: IterationMessage, Content: content.String()}, nil
}
