package llm

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"aria-core/src/internal/config"
)

// Client adapts an OpenAI-compatible chat-completions endpoint to the
// Streamer contract.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a streaming client from the configured primary model.
func NewClient(cfg *config.Config) (*Client, error) {
	prov, model, err := cfg.PrimaryProvider()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if prov.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for models.primary %q", ErrModelUnavailable, cfg.Models.Primary)
	}
	oc := openai.DefaultConfig(prov.APIKey)
	if prov.BaseURL != "" {
		oc.BaseURL = prov.BaseURL
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}, nil
}

func (c *Client) StreamCompletion(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (Stream, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &openaiStream{inner: stream}, nil
}

// Unavailable is a Streamer for deployments with no model configured; every
// call fails with ErrModelUnavailable so tasks fail cleanly instead of
// panicking.
type Unavailable struct{}

func (Unavailable) StreamCompletion(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (Stream, error) {
	return nil, ErrModelUnavailable
}

type openaiStream struct {
	inner *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (Chunk, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		// io.EOF passes through as the end-of-stream marker.
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("stream recv: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}

	choice := resp.Choices[0]
	chunk := Chunk{
		ContentDelta: choice.Delta.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:          idx,
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

func (s *openaiStream) Close() {
	s.inner.Close()
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
