package google

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

func TestToContents(t *testing.T) {
	system, contents := toContents("base", []llmtypes.Message{
		{Role: llmtypes.RoleUser, Content: "hi"},
		{Role: llmtypes.RoleAssistant, Content: "checking", ToolCalls: []llmtypes.ToolCall{{ID: "a", Name: "files_list", Arguments: json.RawMessage(`{"path":"."}`)}}},
		{Role: llmtypes.RoleTool, ToolCallID: "a", Name: "files_list", Content: "main.go"},
		{Role: llmtypes.RoleSystem, Content: "more"},
	})

	assert.Equal(t, "base\n\nmore", system)
	require.Len(t, contents, 3)
	assert.Equal(t, roleUser, contents[0].Role)
	assert.Equal(t, roleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "files_list", contents[1].Parts[1].FunctionCall.Name)
	assert.Equal(t, ".", contents[1].Parts[1].FunctionCall.Args["path"])
	assert.Equal(t, roleUser, contents[2].Role)
	assert.Equal(t, "main.go", contents[2].Parts[0].FunctionResponse.Response["output"])
}

func TestConvertSchema(t *testing.T) {
	props := jsonschema.NewProperties()
	props.Set("path", &jsonschema.Schema{Type: "string", Description: "file"})
	props.Set("tags", &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}})
	props.Set("limit", &jsonschema.Schema{Type: "integer"})

	out := convertSchema(&jsonschema.Schema{Type: "object", Properties: props, Required: []string{"path"}})
	assert.Equal(t, genai.TypeObject, out.Type)
	assert.Equal(t, genai.TypeString, out.Properties["path"].Type)
	assert.Equal(t, "file", out.Properties["path"].Description)
	assert.Equal(t, genai.TypeArray, out.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, out.Properties["tags"].Items.Type)
	assert.Equal(t, genai.TypeInteger, out.Properties["limit"].Type)
	assert.Equal(t, []string{"path"}, out.Required)
}

func TestToToolCallGeneratesID(t *testing.T) {
	call, err := toToolCall(&genai.FunctionCall{Name: "files_read"})
	require.NoError(t, err)
	assert.Contains(t, call.ID, "call_")
	assert.JSONEq(t, `{}`, string(call.Arguments))

	call, err = toToolCall(&genai.FunctionCall{ID: "x", Name: "files_read", Args: map[string]any{"path": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "x", call.ID)
	assert.JSONEq(t, `{"path":"a"}`, string(call.Arguments))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(genai.APIError{Code: 429}))
	assert.True(t, isRetryableError(errors.Wrap(genai.APIError{Code: 503}, "wrapped")))
	assert.False(t, isRetryableError(genai.APIError{Code: 400}))
	assert.False(t, isRetryableError(context.DeadlineExceeded))
	assert.False(t, isRetryableError(errors.New("boom")))
}
