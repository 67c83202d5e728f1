// Package openai implements the streaming model client for OpenAI-compatible
// chat completion APIs.
package openai

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/jingkaihe/keel/pkg/llm/base"
	"github.com/jingkaihe/keel/pkg/logger"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4.1"

// Client talks to the chat completions endpoint.
type Client struct {
	client *openai.Client
	config llmtypes.Config
}

var _ llmtypes.Client = (*Client)(nil)

// New creates a client. The API key falls back to OPENAI_API_KEY.
func New(config llmtypes.Config) (*Client, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai: api key is not configured (set api_key or OPENAI_API_KEY)")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &Client{client: openai.NewClientWithConfig(clientConfig), config: config}, nil
}

// Provider implements llmtypes.Client.
func (c *Client) Provider() string { return llmtypes.ProviderOpenAI }

// Complete streams one chat completion.
func (c *Client) Complete(ctx context.Context, req llmtypes.Request, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	params := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  toMessages(req.System, req.Messages),
		Tools:     toTools(req.Tools),
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	var resp *llmtypes.Response
	err := base.ExecuteWithRetry(ctx, c.config.Retry, "OpenAI", isRetryableError, func() error {
		var err error
		resp, err = c.stream(ctx, params, onChunk)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai: completion failed")
	}
	return resp, nil
}

func (c *Client) stream(ctx context.Context, params openai.ChatCompletionRequest, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var calls []openai.ToolCall
	var usage llmtypes.Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if text.Len() > 0 {
				return nil, errors.Wrap(base.ErrStreamInterrupted, err.Error())
			}
			return nil, err
		}

		if chunk.Usage != nil {
			usage = llmtypes.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				if onChunk != nil {
					onChunk(delta)
				}
			}
			calls = mergeToolCallDeltas(ctx, calls, choice.Delta.ToolCalls)
		}
	}

	resp := &llmtypes.Response{Text: text.String(), Usage: usage}
	for _, tc := range calls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, llmtypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return resp, nil
}

// mergeToolCallDeltas accumulates streamed tool call fragments by index.
func mergeToolCallDeltas(ctx context.Context, calls []openai.ToolCall, deltas []openai.ToolCall) []openai.ToolCall {
	for _, tc := range deltas {
		if tc.Index == nil {
			logger.G(ctx).WithField("tool_call_id", tc.ID).Warn("received tool call delta with nil index, skipping")
			continue
		}
		idx := *tc.Index
		for len(calls) <= idx {
			calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		if tc.ID != "" {
			calls[idx].ID = tc.ID
		}
		if tc.Function.Name != "" {
			calls[idx].Function.Name = tc.Function.Name
		}
		calls[idx].Function.Arguments += tc.Function.Arguments
	}
	return calls
}

func toMessages(system string, msgs []llmtypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case llmtypes.RoleSystem:
			msg.Role = openai.ChatMessageRoleSystem
		case llmtypes.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case llmtypes.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		out = append(out, msg)
	}
	return out
}

func toTools(specs []llmtypes.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		}
	}
	return tools
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
