// Package agent runs the streaming tool-calling loop: it assembles context for
// a request, calls the model, dispatches the tools it asks for and reports
// every step as an Event.
package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/keel/pkg/assembler"
	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/logger"
	"github.com/jingkaihe/keel/pkg/telemetry"
	"github.com/jingkaihe/keel/pkg/tools"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

const (
	// DefaultMaxToolIterations bounds tool calls per request.
	DefaultMaxToolIterations = 25
	// MaxToolIterationsCeiling caps any configured bound.
	MaxToolIterationsCeiling = 100
	// DefaultModelTimeout bounds a single model call.
	DefaultModelTimeout = 5 * time.Minute

	eventBuffer = 16
)

var (
	// ErrEmptyMessage is returned when a request carries no user text.
	ErrEmptyMessage = errors.New("message is required")

	tracer = telemetry.Tracer("keel.agent")
)

// ContextBuilder assembles the context of one request.
type ContextBuilder interface {
	Build(ctx context.Context, conversationID, root string, opts assembler.Options) (*assembler.Bundle, error)
}

// TurnRecorder persists conversation turns. history.Store satisfies it.
type TurnRecorder interface {
	InsertTurn(ctx context.Context, turn history.Turn) error
}

// Config tunes the loop.
type Config struct {
	MaxToolIterations int               `mapstructure:"max_tool_iterations"`
	ModelTimeout      time.Duration     `mapstructure:"model_timeout"`
	ReadOnly          bool              `mapstructure:"read_only"`
	Model             string            `mapstructure:"-"`
	MaxTokens         int               `mapstructure:"-"`
	Context           assembler.Options `mapstructure:"-"`
}

// Request is one user message addressed to a conversation rooted at Root.
type Request struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Root           string `json:"root"`
}

// Agent drives requests. It is safe for concurrent use; each Stream call owns
// its own message list and goroutine.
type Agent struct {
	client   llmtypes.Client
	builder  ContextBuilder
	registry *tools.Registry
	recorder TurnRecorder
	config   Config
	now      func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithRecorder persists the user message and the final answer of every request.
func WithRecorder(r TurnRecorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithClock sets the clock used for recorded turns.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an Agent.
func New(client llmtypes.Client, builder ContextBuilder, registry *tools.Registry, config Config, opts ...Option) *Agent {
	a := &Agent{
		client:   client,
		builder:  builder,
		registry: registry,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxIterations returns the effective tool iteration bound.
func (c Config) MaxIterations() int {
	switch {
	case c.MaxToolIterations <= 0:
		return DefaultMaxToolIterations
	case c.MaxToolIterations > MaxToolIterationsCeiling:
		return MaxToolIterationsCeiling
	default:
		return c.MaxToolIterations
	}
}

// Timeout returns the effective per-call model timeout.
func (c Config) Timeout() time.Duration {
	if c.ModelTimeout <= 0 {
		return DefaultModelTimeout
	}
	return c.ModelTimeout
}

// Stream assembles context for req and starts the loop. Assembly failures are
// returned directly and produce no events. Otherwise the returned channel
// yields events ending with exactly one final event and is then closed.
// Cancelling ctx abandons the stream: the loop stops at its next send or tool
// call and the channel is closed without a final event.
func (a *Agent) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	bundle, err := a.builder.Build(ctx, req.ConversationID, req.Root, a.config.Context)
	if err != nil {
		return nil, err
	}

	if err := a.record(ctx, req.ConversationID, history.SenderUser, req.Message); err != nil {
		return nil, errors.Wrap(err, "failed to record user message")
	}

	messages := make([]llmtypes.Message, 0, len(bundle.HistoryMessages)+1)
	messages = append(messages, bundle.HistoryMessages...)
	messages = append(messages, llmtypes.Message{Role: llmtypes.RoleUser, Content: req.Message})

	events := make(chan Event, eventBuffer)
	go a.run(ctx, req, bundle.SystemPrompt, messages, events)
	return events, nil
}

func (a *Agent) run(ctx context.Context, req Request, system string, messages []llmtypes.Message, events chan<- Event) {
	defer close(events)
	log := logger.G(ctx).WithField("conversation_id", req.ConversationID)

	var usage llmtypes.Usage
	final := a.loop(ctx, req, system, messages, events, &usage)
	log = log.WithField("input_tokens", usage.InputTokens).WithField("output_tokens", usage.OutputTokens)
	if ctx.Err() != nil {
		log.Debug("stream abandoned by consumer")
		return
	}

	if final.Error == "" {
		if err := a.record(ctx, req.ConversationID, history.SenderAgent, final.Content); err != nil {
			log.WithError(err).Warn("failed to record agent answer")
		}
		log.WithField("total_tokens", usage.TotalTokens()).Debug("request finished")
	} else {
		log.WithField("error", final.Error).Warn("request finished with error")
	}
	send(ctx, events, final)
}

func (a *Agent) loop(ctx context.Context, req Request, system string, messages []llmtypes.Message, events chan<- Event, usage *llmtypes.Usage) Event {
	maxIterations := a.config.MaxIterations()
	specs := a.registry.Specs(a.config.ReadOnly)
	safety := tooltypes.SafetyContext{Root: req.Root, ReadOnly: a.config.ReadOnly}
	iterations := 0

	for {
		if err := ctx.Err(); err != nil {
			return failedEvent(err)
		}

		resp, err := a.complete(ctx, llmtypes.Request{
			System:    system,
			Messages:  messages,
			Tools:     specs,
			Model:     a.config.Model,
			MaxTokens: a.config.MaxTokens,
		}, events)
		if err != nil {
			return failedEvent(err)
		}
		usage.Add(resp.Usage)

		messages = append(messages, llmtypes.Message{
			Role:      llmtypes.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return finalEvent(resp.Text)
		}

		for _, call := range resp.ToolCalls {
			if iterations >= maxIterations {
				return failedEvent(errors.Errorf("tool iteration limit (%d) reached", maxIterations))
			}
			if err := ctx.Err(); err != nil {
				return failedEvent(err)
			}
			iterations++

			result := a.invoke(ctx, call, safety, events)
			messages = append(messages, llmtypes.Message{
				Role:       llmtypes.RoleTool,
				Content:    result.String(),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
}

func (a *Agent) complete(ctx context.Context, req llmtypes.Request, events chan<- Event) (*llmtypes.Response, error) {
	timeout := a.config.Timeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := tracer.Start(callCtx, "agent.model.complete", trace.WithAttributes(
		attribute.String("llm.provider", a.client.Provider()),
		attribute.Int("llm.messages", len(req.Messages)),
	))

	resp, err := a.client.Complete(callCtx, req, func(text string) {
		send(ctx, events, chunkEvent(text))
	})
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = errors.Wrapf(err, "model call timed out after %s", timeout)
	}
	if err == nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
			attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
			attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		)
	}
	telemetry.Finish(span, err)
	return resp, err
}

func (a *Agent) invoke(ctx context.Context, call llmtypes.ToolCall, safety tooltypes.SafetyContext, events chan<- Event) tooltypes.Result {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	tool, action, ok := a.registry.Lookup(call.Name)
	if !ok {
		tool = call.Name
	}
	send(ctx, events, Event{Type: EventToolCall, Tool: tool, Action: action, Args: args})

	var result tooltypes.Result
	if ok {
		result = a.registry.Dispatch(ctx, tooltypes.Invocation{Tool: tool, Action: action, Args: args, Safety: safety})
	} else {
		result = tooltypes.Failure(errors.Wrapf(tools.ErrUnknownTool, "function %s", call.Name))
	}

	success := result.Success
	send(ctx, events, Event{
		Type:    EventToolResult,
		Tool:    tool,
		Action:  action,
		Success: &success,
		Output:  result.Output,
		Error:   result.Error,
	})
	return result
}

func (a *Agent) record(ctx context.Context, conversationID, sender, content string) error {
	if a.recorder == nil {
		return nil
	}
	return a.recorder.InsertTurn(ctx, history.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      a.now().UTC(),
	})
}

// send delivers ev unless the consumer has gone away.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream, returning every event. Used by callers that do not
// need incremental output.
func Collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}
