// Package tools holds the fixed set of named capabilities the model can
// invoke, and the executor that turns a raw tool-call into the uniform
// result envelope fed back into the conversation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aria-core/src/internal/connect"
	"aria-core/src/internal/knowledge"
	"aria-core/src/internal/llm"
	"aria-core/src/internal/store"
)

// CallContext carries the per-call identity a handler needs.
type CallContext struct {
	UserID   string
	TaskID   string
	TimeZone string
}

// Handler performs a tool's side effect and/or query with validated input.
type Handler func(ctx context.Context, call CallContext, input map[string]any) (any, error)

// Tool is a named capability: a machine-readable parameter schema for the
// model's function-calling interface, and a handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry is an immutable name -> tool table built once at startup and
// passed by reference into the Executor. Tests construct registries with
// substituted tools for handler mocking.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			continue
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the tool schemas in registration order for the model's
// function-calling interface.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// Result is the uniform envelope serialized verbatim back into the model's
// conversation; the model parses both outcomes without special-casing.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON renders the envelope as a tool-result message body.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result serialization failed"}`
	}
	return string(b)
}

// Executor resolves, validates, and runs tool calls. Handler failures of
// any shape become error envelopes; nothing propagates past Execute.
type Executor struct {
	reg *Registry
}

func NewExecutor(reg *Registry) *Executor {
	return &Executor{reg: reg}
}

// Execute runs the named tool against a raw argument string. The failure
// ladder is: unknown tool, argument parse error, schema validation error
// (all field violations aggregated), then handler error.
func (e *Executor) Execute(ctx context.Context, call CallContext, name, rawArgs string) Result {
	tool, ok := e.reg.Get(name)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown tool %q", name)}
	}

	input := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &input); err != nil {
			return Result{Error: fmt.Sprintf("invalid tool arguments: %v", err)}
		}
	}

	if err := validateInput(tool.Parameters, input); err != nil {
		return Result{Error: err.Error()}
	}

	result, err := e.invoke(ctx, tool, call, input)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Result: result}
}

// invoke guards the handler: a panic is converted into an error envelope
// like any other handler failure.
func (e *Executor) invoke(ctx context.Context, tool Tool, call CallContext, input map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, call, input)
}

// Deps are the collaborators the canonical tool handlers close over.
type Deps struct {
	Store     *store.Store
	Mail      connect.MailClient
	Calendar  connect.CalendarClient
	CRM       connect.CRMClient
	Knowledge *knowledge.Searcher
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// DefaultRegistry builds the canonical tool table.
func DefaultRegistry(d Deps) *Registry {
	return NewRegistry(
		searchKnowledgeTool(d),
		sendEmailTool(d),
		draftEmailTool(d),
		createCalendarEventTool(d),
		updateCalendarEventTool(d),
		createOrUpdateHubspotContactTool(d),
		lookupHubspotContactTool(d),
		scheduleFollowUpTaskTool(d),
		storeInstructionTool(d),
		listInstructionsTool(d),
	)
}
