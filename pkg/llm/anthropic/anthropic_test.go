package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

func TestToMessagesFoldsSystemAndGroupsToolResults(t *testing.T) {
	system, msgs := toMessages("base", []llmtypes.Message{
		{Role: llmtypes.RoleSystem, Content: "extra"},
		{Role: llmtypes.RoleUser, Content: "hi"},
		{Role: llmtypes.RoleAssistant, ToolCalls: []llmtypes.ToolCall{
			{ID: "a", Name: "files_read", Arguments: json.RawMessage(`{"path":"x"}`)},
			{ID: "b", Name: "files_list"},
		}},
		{Role: llmtypes.RoleTool, ToolCallID: "a", Content: "one"},
		{Role: llmtypes.RoleTool, ToolCallID: "b", Content: "two"},
		{Role: llmtypes.RoleAssistant, Content: "done"},
	})

	assert.Equal(t, "base\n\nextra", system)
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestToTools(t *testing.T) {
	schema := &jsonschema.Schema{Type: "object", Required: []string{"path"}}
	tools := toTools([]llmtypes.ToolSpec{{Name: "files_read", Description: "read", Schema: schema}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "files_read", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
	assert.Nil(t, toTools(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&anthropic.Error{StatusCode: 429}))
	assert.True(t, isRetryableError(errors.Wrap(&anthropic.Error{StatusCode: 529}, "overloaded")))
	assert.False(t, isRetryableError(&anthropic.Error{StatusCode: 401}))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(errors.New("boom")))
}

func TestNew(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(llmtypes.Config{})
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	c, err := New(llmtypes.Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.config.Model)
	assert.Equal(t, llmtypes.ProviderAnthropic, c.Provider())
}
