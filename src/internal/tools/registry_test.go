package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "echoes its message",
		Parameters: objectSchema(map[string]any{
			"message": stringProp("text to echo"),
			"count":   numberProp("repeat count"),
			"loud":    boolProp("uppercase the output"),
			"tags":    stringArrayProp("labels"),
		}, "message"),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			return map[string]any{"message": strArg(input, "message")}, nil
		},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(echoTool()))
	res := e.Execute(context.Background(), CallContext{}, "nothing", `{}`)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != `unknown tool "nothing"` {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestExecuteArgumentParseError(t *testing.T) {
	e := NewExecutor(NewRegistry(echoTool()))
	res := e.Execute(context.Background(), CallContext{}, "echo", `{"message": `)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Error, "invalid tool arguments:") {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestExecuteValidationAggregatesIssues(t *testing.T) {
	e := NewExecutor(NewRegistry(echoTool()))
	res := e.Execute(context.Background(), CallContext{}, "echo",
		`{"count":"three","bogus":true,"loud":1}`)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Error, "validation failed:") {
		t.Fatalf("unexpected error %q", res.Error)
	}
	for _, want := range []string{"message: required", "count: must be a number", "bogus: unknown field", "loud: must be a boolean"} {
		if !strings.Contains(res.Error, want) {
			t.Errorf("expected %q in %q", want, res.Error)
		}
	}
}

func TestExecuteHandlerError(t *testing.T) {
	failing := Tool{
		Name:       "fail",
		Parameters: objectSchema(nil),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			return nil, errors.New("downstream unavailable")
		},
	}
	e := NewExecutor(NewRegistry(failing))
	res := e.Execute(context.Background(), CallContext{}, "fail", ``)
	if res.Success || res.Error != "downstream unavailable" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestExecuteHandlerPanicBecomesError(t *testing.T) {
	panicking := Tool{
		Name:       "boom",
		Parameters: objectSchema(nil),
		Handler: func(ctx context.Context, call CallContext, input map[string]any) (any, error) {
			panic("nil map write")
		},
	}
	e := NewExecutor(NewRegistry(panicking))
	res := e.Execute(context.Background(), CallContext{}, "boom", `{}`)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "tool boom panicked") {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestExecuteSuccessEnvelope(t *testing.T) {
	e := NewExecutor(NewRegistry(echoTool()))
	res := e.Execute(context.Background(), CallContext{}, "echo", `{"message":"hi","tags":["a","b"]}`)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(res.JSON()), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope["success"] != true {
		t.Error("expected success:true in envelope")
	}
	if _, hasErr := envelope["error"]; hasErr {
		t.Error("success envelope must not carry an error field")
	}
	inner, _ := envelope["result"].(map[string]any)
	if inner["message"] != "hi" {
		t.Errorf("unexpected result %v", envelope["result"])
	}
}

func TestRegistrySkipsDuplicates(t *testing.T) {
	r := NewRegistry(echoTool(), echoTool())
	if len(r.Specs()) != 1 {
		t.Errorf("expected duplicate registration to be skipped")
	}
}

func TestDefaultRegistryToolSet(t *testing.T) {
	r := DefaultRegistry(Deps{})
	want := []string{
		"searchKnowledge", "sendEmail", "draftEmail",
		"createCalendarEvent", "updateCalendarEvent",
		"createOrUpdateHubspotContact", "lookupHubspotContact",
		"scheduleFollowUpTask", "storeInstruction", "listInstructions",
	}
	specs := r.Specs()
	if len(specs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(specs))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Errorf("tool %d: expected %s, got %s", i, name, specs[i].Name)
		}
	}
}
