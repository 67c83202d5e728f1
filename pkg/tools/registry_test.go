package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

type fakeTool struct {
	name    string
	actions []tooltypes.Action
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake" }
func (f *fakeTool) Actions() []tooltypes.Action { return f.actions }

func echoAction(name string, mutates bool) tooltypes.Action {
	return tooltypes.Action{
		Name:    name,
		Mutates: mutates,
		Handler: func(_ context.Context, inv tooltypes.Invocation) (string, error) {
			return string(inv.Args), nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		tool tooltypes.Tool
	}{
		{"nil tool", nil},
		{"empty name", &fakeTool{name: "", actions: []tooltypes.Action{echoAction("run", false)}}},
		{"underscore in tool name", &fakeTool{name: "my_tool", actions: []tooltypes.Action{echoAction("run", false)}}},
		{"no actions", &fakeTool{name: "empty"}},
		{"nil handler", &fakeTool{name: "bad", actions: []tooltypes.Action{{Name: "run"}}}},
		{"duplicate action", &fakeTool{name: "dup", actions: []tooltypes.Action{echoAction("run", false), echoAction("run", false)}}},
		{"invalid action name", &fakeTool{name: "bad", actions: []tooltypes.Action{echoAction("Run!", false)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry()
			require.NoError(t, err)
			assert.Error(t, r.Register(tt.tool))
			assert.Empty(t, r.Names())
		})
	}

	t.Run("duplicate tool", func(t *testing.T) {
		r, err := NewRegistry(&fakeTool{name: "echo", actions: []tooltypes.Action{echoAction("run", false)}})
		require.NoError(t, err)
		assert.Error(t, r.Register(&fakeTool{name: "echo", actions: []tooltypes.Action{echoAction("other", false)}}))
		assert.Equal(t, []string{"echo"}, r.Names())
	})
}

func TestDispatch(t *testing.T) {
	panicky := tooltypes.Action{Name: "explode", Handler: func(context.Context, tooltypes.Invocation) (string, error) {
		panic("kaboom")
	}}
	failing := tooltypes.Action{Name: "fail", Handler: func(context.Context, tooltypes.Invocation) (string, error) {
		return "", errors.New("disk full")
	}}
	r, err := NewRegistry(&fakeTool{name: "echo", actions: []tooltypes.Action{
		echoAction("say", false), echoAction("store", true), panicky, failing,
	}})
	require.NoError(t, err)
	ctx := context.Background()

	res := r.Dispatch(ctx, tooltypes.Invocation{Tool: "echo", Action: "say", Args: json.RawMessage(`{"a":1}`)})
	assert.True(t, res.Success)
	assert.Equal(t, `{"a":1}`, res.Output)

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "nope", Action: "say"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "echo", Action: "store", Safety: tooltypes.SafetyContext{ReadOnly: true}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "read-only")

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "echo", Action: "say", Args: json.RawMessage(`{broken`)})
	assert.False(t, res.Success)

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "echo", Action: "explode"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "echo", Action: "fail"})
	assert.Equal(t, tooltypes.Result{Success: false, Error: "disk full"}, res)
}

func TestSpecsAndLookup(t *testing.T) {
	r, err := NewRegistry(&fakeTool{name: "echo", actions: []tooltypes.Action{echoAction("say", false), echoAction("store_all", true)}})
	require.NoError(t, err)

	names := func(readOnly bool) []string {
		var out []string
		for _, s := range r.Specs(readOnly) {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{"echo_say", "echo_store_all"}, names(false))
	assert.Equal(t, []string{"echo_say"}, names(true))

	tool, action, ok := r.Lookup("echo_store_all")
	require.True(t, ok)
	assert.Equal(t, "echo", tool)
	assert.Equal(t, "store_all", action)

	_, _, ok = r.Lookup("echo_missing")
	assert.False(t, ok)
	_, _, ok = r.Lookup("echo")
	assert.False(t, ok)
}

func TestDispatchRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := tracer
	tracer = provider.Tracer("test")
	t.Cleanup(func() { tracer = original })

	r, err := NewRegistry(&FilesTool{})
	require.NoError(t, err)
	r.Dispatch(context.Background(), tooltypes.Invocation{Tool: "files", Action: "read",
		Args: json.RawMessage(`{"path":"../x"}`), Safety: tooltypes.SafetyContext{Root: t.TempDir()}})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tools.dispatch.files.read", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
