// Package google implements the streaming model client for the Gemini API.
package google

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/jingkaihe/keel/pkg/llm/base"
	"github.com/jingkaihe/keel/pkg/logger"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-pro"

const (
	roleUser  = "user"
	roleModel = "model"
)

// Client talks to the GenerateContent endpoint.
type Client struct {
	client *genai.Client
	config llmtypes.Config
}

var _ llmtypes.Client = (*Client)(nil)

// New creates a client. The API key falls back to GOOGLE_API_KEY and then
// GEMINI_API_KEY.
func New(ctx context.Context, config llmtypes.Config) (*Client, error) {
	apiKey := config.APIKey
	for _, env := range []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"} {
		if apiKey == "" {
			apiKey = os.Getenv(env)
		}
	}
	if apiKey == "" {
		return nil, errors.New("google: api key is not configured (set api_key or GOOGLE_API_KEY)")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "google: failed to create client")
	}
	return &Client{client: client, config: config}, nil
}

// Provider implements llmtypes.Client.
func (c *Client) Provider() string { return llmtypes.ProviderGoogle }

// Complete streams one generation.
func (c *Client) Complete(ctx context.Context, req llmtypes.Request, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	system, contents := toContents(req.System, req.Messages)
	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           toTools(req.Tools),
	}
	if system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, roleUser)
	}

	var resp *llmtypes.Response
	err := base.ExecuteWithRetry(ctx, c.config.Retry, "Google", isRetryableError, func() error {
		var err error
		resp, err = c.stream(ctx, model, contents, genConfig, onChunk)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "google: completion failed")
	}
	return resp, nil
}

func (c *Client) stream(ctx context.Context, model string, contents []*genai.Content, genConfig *genai.GenerateContentConfig, onChunk llmtypes.ChunkFunc) (*llmtypes.Response, error) {
	resp := &llmtypes.Response{}
	var text strings.Builder

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, model, contents, genConfig) {
		if err != nil {
			if text.Len() > 0 {
				return nil, errors.Wrap(base.ErrStreamInterrupted, err.Error())
			}
			return nil, err
		}
		if chunk.UsageMetadata != nil {
			resp.Usage = llmtypes.Usage{
				InputTokens:  int(chunk.UsageMetadata.PromptTokenCount),
				OutputTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				call, err := toToolCall(part.FunctionCall)
				if err != nil {
					return nil, err
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			case part.Thought:
				logger.G(ctx).Debug("skipping thought part")
			case part.Text != "":
				text.WriteString(part.Text)
				if onChunk != nil {
					onChunk(part.Text)
				}
			}
		}
	}

	resp.Text = text.String()
	return resp, nil
}

func toToolCall(fc *genai.FunctionCall) (llmtypes.ToolCall, error) {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return llmtypes.ToolCall{}, errors.Wrap(err, "failed to marshal function call arguments")
	}
	return llmtypes.ToolCall{ID: id, Name: fc.Name, Arguments: raw}, nil
}

// toContents folds system-role messages into the system instruction and
// groups consecutive tool results into one user content.
func toContents(system string, msgs []llmtypes.Message) (string, []*genai.Content) {
	var out []*genai.Content
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			out = append(out, genai.NewContentFromParts(pending, roleUser))
			pending = nil
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
			pending = append(pending, genai.NewPartFromFunctionResponse(m.Name, map[string]any{"output": m.Content}))
		case llmtypes.RoleAssistant:
			flush()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, roleModel))
			}
		default:
			flush()
			out = append(out, genai.NewContentFromText(m.Content, roleUser))
		}
	}
	flush()
	return system, out
}

func toTools(specs []llmtypes.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(specs))
	for i, spec := range specs {
		decl := &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.Schema != nil {
			decl.Parameters = convertSchema(spec.Schema)
		}
		decls[i] = decl
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(schema *jsonschema.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:        convertSchemaType(schema.Type),
		Description: schema.Description,
	}
	if schema.Properties != nil {
		out.Properties = make(map[string]*genai.Schema)
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties[pair.Key] = convertSchema(pair.Value)
		}
	}
	if len(schema.Required) > 0 {
		out.Required = schema.Required
	}
	if schema.Items != nil {
		out.Items = convertSchema(schema.Items)
	}
	return out
}

func convertSchemaType(schemaType string) genai.Type {
	switch strings.ToLower(schemaType) {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return false
	}
	return code == 429 || code >= 500
}
