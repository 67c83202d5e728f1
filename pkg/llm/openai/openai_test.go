package openai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

func intPtr(i int) *int { return &i }

func TestToMessages(t *testing.T) {
	msgs := toMessages("SYSTEM", []llmtypes.Message{
		{Role: llmtypes.RoleUser, Content: "list files"},
		{Role: llmtypes.RoleAssistant, ToolCalls: []llmtypes.ToolCall{{ID: "c1", Name: "files_list", Arguments: json.RawMessage(`{}`)}}},
		{Role: llmtypes.RoleTool, ToolCallID: "c1", Name: "files_list", Content: "main.go"},
		{Role: llmtypes.RoleSystem, Content: "note"},
	})
	require.Len(t, msgs, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "SYSTEM", msgs[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, "files_list", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "{}", msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[4].Role)
}

func TestMergeToolCallDeltas(t *testing.T) {
	var calls []openai.ToolCall
	ctx := context.Background()
	calls = mergeToolCallDeltas(ctx, calls, []openai.ToolCall{{Index: intPtr(0), ID: "a", Function: openai.FunctionCall{Name: "files_read", Arguments: `{"pa`}}})
	calls = mergeToolCallDeltas(ctx, calls, []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `th":"x"}`}}})
	calls = mergeToolCallDeltas(ctx, calls, []openai.ToolCall{{Index: intPtr(1), ID: "b", Function: openai.FunctionCall{Name: "files_list"}}})
	calls = mergeToolCallDeltas(ctx, calls, []openai.ToolCall{{ID: "ignored"}})

	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, `{"path":"x"}`, calls[0].Function.Arguments)
	assert.Equal(t, "files_list", calls[1].Function.Name)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, isRetryableError(errors.Wrap(&openai.APIError{HTTPStatusCode: 503}, "wrapped")))
	assert.False(t, isRetryableError(&openai.APIError{HTTPStatusCode: 400}))
	assert.True(t, isRetryableError(&openai.RequestError{HTTPStatusCode: 502}))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(errors.New("boom")))
	assert.False(t, isRetryableError(nil))
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(llmtypes.Config{})
	assert.Error(t, err)

	c, err := New(llmtypes.Config{APIKey: "k", BaseURL: "http://localhost:1234/v1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.config.Model)
	assert.Equal(t, llmtypes.ProviderOpenAI, c.Provider())
}
