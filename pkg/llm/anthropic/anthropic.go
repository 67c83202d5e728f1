// Package anthropic implements the streaming model client for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/llm/base"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Client talks to the Messages endpoint.
type Client struct {
	client anthropic.Client
	config llmtypes.Config
}

var _ llmtypes.Client = (*Client)(nil)

// New creates a client. The API key falls back to ANTHROPIC_API_KEY.
func New(config llmtypes.Config) (*Client, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is not configured (set api_key or ANTHROPIC_API_KEY)")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{client: anthropic.NewClient(opts...), config: config}, nil
}

// Provider implements llmtypes.Client.
func (c *Client) Provider() string { return llmtypes.ProviderAnthropic }

// Complete streams one message.
func (c *Client) Complete(ctx context.Context, req llmtypes.Request, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	system, messages := toMessages(req.System, req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     toTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var resp *llmtypes.Response
	err := base.ExecuteWithRetry(ctx, c.config.Retry, "Anthropic", isRetryableError, func() error {
		var err error
		resp, err = c.stream(ctx, params, onChunk)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: completion failed")
	}
	return resp, nil
}

func (c *Client) stream(ctx context.Context, params anthropic.MessageNewParams, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	streamed := false
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, errors.Wrap(err, "failed to accumulate stream event")
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				streamed = true
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		if streamed {
			return nil, errors.Wrap(base.ErrStreamInterrupted, err.Error())
		}
		return nil, err
	}

	resp := &llmtypes.Response{
		Usage: llmtypes.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			args := variant.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, llmtypes.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}

// toMessages folds system-role messages into the system prompt and groups
// consecutive tool results into one user message.
func toMessages(system string, msgs []llmtypes.Message) (string, []anthropic.MessageParam) {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case llmtypes.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llmtypes.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case llmtypes.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Arguments) > 0 {
					input = tc.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return system, out
}

func toTools(specs []llmtypes.ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, len(specs))
	for i, spec := range specs {
		input := anthropic.ToolInputSchemaParam{}
		if spec.Schema != nil {
			input.Properties = spec.Schema.Properties
			input.Required = spec.Schema.Required
		}
		tools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: input,
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
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
