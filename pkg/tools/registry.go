// Package tools provides the sandboxed tool registry the agent loop
// dispatches model tool calls through, and the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/keel/pkg/logger"
	"github.com/jingkaihe/keel/pkg/telemetry"
	"github.com/jingkaihe/keel/pkg/types/llm"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

var (
	// ErrUnknownTool is returned for invocations naming no registered action.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrReadOnly is returned for mutating actions under a read-only context.
	ErrReadOnly = errors.New("action is not permitted in read-only mode")
)

var (
	toolNamePattern   = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	actionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	tracer            = telemetry.Tracer("keel.tools")
)

// FunctionName is the model-facing name of a tool action.
func FunctionName(tool, action string) string {
	return tool + "_" + action
}

type entry struct {
	tool   tooltypes.Tool
	action tooltypes.Action
}

// Registry is an explicit table of tool actions keyed by tool and action name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]tooltypes.Tool
	actions map[string]map[string]entry
	order   []string
}

// NewRegistry creates a registry holding tools; it fails like Register.
func NewRegistry(tools ...tooltypes.Tool) (*Registry, error) {
	r := &Registry{
		tools:   map[string]tooltypes.Tool{},
		actions: map[string]map[string]entry{},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Tool names must be unique lowercase alphanumerics;
// action names must be unique within the tool and carry a handler.
func (r *Registry) Register(tool tooltypes.Tool) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := tool.Name()
	if !toolNamePattern.MatchString(name) {
		return errors.Errorf("invalid tool name %q", name)
	}

	actions := map[string]entry{}
	for _, a := range tool.Actions() {
		if !actionNamePattern.MatchString(a.Name) {
			return errors.Errorf("tool %s: invalid action name %q", name, a.Name)
		}
		if _, dup := actions[a.Name]; dup {
			return errors.Errorf("tool %s: duplicate action %q", name, a.Name)
		}
		if a.Handler == nil {
			return errors.Errorf("tool %s: action %q has no handler", name, a.Name)
		}
		actions[a.Name] = entry{tool: tool, action: a}
	}
	if len(actions) == 0 {
		return errors.Errorf("tool %s declares no actions", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return errors.Errorf("tool %s is already registered", name)
	}
	r.tools[name] = tool
	r.actions[name] = actions
	r.order = append(r.order, name)
	return nil
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs describes every action to the model, optionally omitting mutating ones.
func (r *Registry) Specs(readOnly bool) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specs []llm.ToolSpec
	for _, name := range r.order {
		tool := r.tools[name]
		for _, a := range tool.Actions() {
			if readOnly && a.Mutates {
				continue
			}
			specs = append(specs, llm.ToolSpec{
				Name:        FunctionName(name, a.Name),
				Description: a.Description,
				Schema:      a.Schema,
			})
		}
	}
	return specs
}

// Lookup splits a model-facing function name into tool and action.
func (r *Registry) Lookup(function string) (tool, action string, ok bool) {
	tool, action, found := strings.Cut(function, "_")
	if !found {
		return "", "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.actions[tool][action]; !exists {
		return "", "", false
	}
	return tool, action, true
}

// Dispatch runs one invocation. It never panics: every failure, including a
// handler panic, is reported as an unsuccessful Result.
func (r *Registry) Dispatch(ctx context.Context, inv tooltypes.Invocation) (result tooltypes.Result) {
	r.mu.RLock()
	e, ok := r.actions[inv.Tool][inv.Action]
	r.mu.RUnlock()
	if !ok {
		return tooltypes.Failure(errors.Wrapf(ErrUnknownTool, "%s.%s", inv.Tool, inv.Action))
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool.name", inv.Tool),
		attribute.String("tool.action", inv.Action),
	}
	if t, ok := e.tool.(tooltypes.Tracer); ok {
		attrs = append(attrs, t.TracingKVs(inv.Action, inv.Args)...)
	}
	ctx, span := tracer.Start(ctx, fmt.Sprintf("tools.dispatch.%s.%s", inv.Tool, inv.Action), trace.WithAttributes(attrs...))
	log := logger.G(ctx).WithField("tool", inv.Tool).WithField("action", inv.Action)

	var err error
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("tool %s.%s panicked: %v", inv.Tool, inv.Action, p)
			log.WithError(err).Error("tool handler panicked")
			result = tooltypes.Failure(err)
		}
		telemetry.Finish(span, err)
	}()

	if inv.Safety.ReadOnly && e.action.Mutates {
		err = errors.Wrapf(ErrReadOnly, "%s.%s", inv.Tool, inv.Action)
		return tooltypes.Failure(err)
	}
	if len(inv.Args) > 0 && !json.Valid(inv.Args) {
		err = errors.New("arguments are not valid JSON")
		return tooltypes.Failure(err)
	}

	output, err := e.action.Handler(ctx, inv)
	if err != nil {
		log.WithError(err).Debug("tool action failed")
		return tooltypes.Failure(err)
	}
	return tooltypes.Success(output)
}

// Describe renders a sorted catalog of actions, used by the CLI.
func (r *Registry) Describe() []string {
	var lines []string
	for _, spec := range r.Specs(false) {
		lines = append(lines, spec.Name+": "+spec.Description)
	}
	sort.Strings(lines)
	return lines
}
