package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// fakeStream replays a scripted chunk sequence.
type fakeStream struct {
	chunks []Chunk
	pos    int
	closed bool
}

func (f *fakeStream) Recv() (Chunk, error) {
	if f.pos >= len(f.chunks) {
		return Chunk{}, io.EOF
	}
	c := f.chunks[f.pos]
	f.pos++
	return c, nil
}

func (f *fakeStream) Close() { f.closed = true }

type fakeStreamer struct {
	stream *fakeStream
	err    error
}

func (f *fakeStreamer) StreamCompletion(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func TestRunIterationMessage(t *testing.T) {
	fs := &fakeStream{chunks: []Chunk{
		{ContentDelta: "Hello"},
		{ContentDelta: ", "},
		{ContentDelta: "world"},
		{FinishReason: "stop"},
	}}

	var tokens []string
	res, err := RunIteration(context.Background(), &fakeStreamer{stream: fs}, nil, nil, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != IterationMessage {
		t.Fatalf("expected message, got %s", res.Kind)
	}
	if res.Content != "Hello, world" {
		t.Errorf("unexpected content %q", res.Content)
	}
	if strings.Join(tokens, "") != "Hello, world" {
		t.Errorf("expected every token forwarded, got %v", tokens)
	}
	if !fs.closed {
		t.Error("expected stream to be closed")
	}
}

func TestRunIterationReassemblesToolCalls(t *testing.T) {
	fs := &fakeStream{chunks: []Chunk{
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_abc", Name: "sendEmail", ArgumentsDelta: `{"to":["a@ex`}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsDelta: `ample.com"],`}}},
		{ToolCalls: []ToolCallDelta{
			{Index: 0, ArgumentsDelta: `"subject":"hi"}`},
			{Index: 1, ID: "call_def", Name: "searchKnowledge", ArgumentsDelta: `{"query":`},
		}},
		{ToolCalls: []ToolCallDelta{{Index: 1, ArgumentsDelta: `"john"}`}}},
		{FinishReason: FinishReasonToolCalls},
	}}

	res, err := RunIteration(context.Background(), &fakeStreamer{stream: fs}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != IterationToolCalls {
		t.Fatalf("expected tool_calls, got %s", res.Kind)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(res.ToolCalls))
	}
	first := res.ToolCalls[0]
	if first.ID != "call_abc" || first.Name != "sendEmail" {
		t.Errorf("unexpected first call %+v", first)
	}
	if first.Arguments != `{"to":["a@example.com"],"subject":"hi"}` {
		t.Errorf("fragments not reassembled: %q", first.Arguments)
	}
	second := res.ToolCalls[1]
	if second.Name != "searchKnowledge" || second.Arguments != `{"query":"john"}` {
		t.Errorf("unexpected second call %+v", second)
	}
}

func TestRunIterationSuppressesTokensAfterToolCall(t *testing.T) {
	fs := &fakeStream{chunks: []Chunk{
		{ContentDelta: "Let me check."},
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "searchKnowledge", ArgumentsDelta: `{}`}}},
		{ContentDelta: "internal scratch text"},
		{FinishReason: FinishReasonToolCalls},
	}}

	var tokens []string
	res, err := RunIteration(context.Background(), &fakeStreamer{stream: fs}, nil, nil, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != IterationToolCalls {
		t.Fatalf("expected tool_calls, got %s", res.Kind)
	}
	if len(tokens) != 1 || tokens[0] != "Let me check." {
		t.Errorf("expected only pre-tool-call tokens forwarded, got %v", tokens)
	}
	// Accumulated content still keeps everything.
	if res.Content != "Let me check.internal scratch text" {
		t.Errorf("unexpected content %q", res.Content)
	}
}

func TestRunIterationToolCallsWithoutFinishReason(t *testing.T) {
	// Some providers cut the stream without a finish reason; accumulated
	// fragments still decide the outcome.
	fs := &fakeStream{chunks: []Chunk{
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "listInstructions", ArgumentsDelta: `{}`}}},
	}}

	res, err := RunIteration(context.Background(), &fakeStreamer{stream: fs}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != IterationToolCalls || len(res.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", res)
	}
}

func TestRunIterationStreamError(t *testing.T) {
	wantErr := errors.New("connection reset")
	if _, err := RunIteration(context.Background(), &fakeStreamer{err: wantErr}, nil, nil, nil); !errors.Is(err, wantErr) {
		t.Errorf("expected setup error passthrough, got %v", err)
	}

	if _, err := RunIteration(context.Background(), &fakeStreamer{stream: &fakeStream{}}, nil, nil, nil); err != nil {
		t.Errorf("empty stream should yield an empty message, got error %v", err)
	}
}
