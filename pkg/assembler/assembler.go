// Package assembler builds the per-request context bundle: the filled system
// prompt, the role-mapped history and the raw pieces that went into them.
package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/filetree"
	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/logger"
	"github.com/jingkaihe/keel/pkg/skills"
	"github.com/jingkaihe/keel/pkg/sysprompt"
	"github.com/jingkaihe/keel/pkg/types/llm"
)

// summaryClip is the rune limit of one history summary line.
const summaryClip = 200

// Project state labels.
const (
	StateEmpty           = "empty"
	StateNewConversation = "new-conversation"
	StateOngoing         = "ongoing"
)

// TreeFunc renders the repository tree.
type TreeFunc func(ctx context.Context, root string, opts filetree.Options) (string, error)

// HistoryLoader fetches recent turns in chronological order.
type HistoryLoader interface {
	LoadRecent(ctx context.Context, conversationID string, limit int) ([]history.Turn, error)
}

// CatalogLoader scans the skill catalog. It is only called when skills are requested.
type CatalogLoader func(ctx context.Context) (*skills.Catalog, skills.Issues)

// TemplateFiller fills a system prompt template.
type TemplateFiller interface {
	Fill(templateID string, values map[string]string) (string, error)
}

// Options controls one assembly.
type Options struct {
	IncludeSkills bool
	// SkillNames restricts the summary; nil means every top-level skill.
	SkillNames   []string
	HistoryLimit int
	Tree         filetree.Options
	TemplateID   string
}

// ContextData holds the raw pieces of a bundle.
type ContextData struct {
	FileTree       string `json:"fileTree"`
	SkillsSection  string `json:"skillsSection"`
	HistorySummary string `json:"historySummary"`
	ProjectState   string `json:"projectState"`
	TurnCount      int    `json:"turnCount"`
}

// Bundle is the assembled context of one request.
type Bundle struct {
	SystemPrompt    string        `json:"systemPrompt"`
	HistoryMessages []llm.Message `json:"historyMessages"`
	ContextData     ContextData   `json:"contextData"`
}

// Assembler builds bundles. It holds no per-request state.
type Assembler struct {
	tree    TreeFunc
	history HistoryLoader
	catalog CatalogLoader
	filler  TemplateFiller
	now     func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTreeFunc replaces filetree.Build.
func WithTreeFunc(fn TreeFunc) Option {
	return func(a *Assembler) { a.tree = fn }
}

// WithFiller replaces the default template filler.
func WithFiller(f TemplateFiller) Option {
	return func(a *Assembler) { a.filler = f }
}

// WithClock sets the clock used for the date placeholder.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an Assembler. catalog may be nil when skills are never requested.
func New(historyLoader HistoryLoader, catalog CatalogLoader, opts ...Option) *Assembler {
	a := &Assembler{
		tree:    filetree.Build,
		history: historyLoader,
		catalog: catalog,
		filler:  sysprompt.NewFiller(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build runs tree, history, skills and template fill strictly in that order.
// The first failure is returned wrapped with its step; later steps never run.
func (a *Assembler) Build(ctx context.Context, conversationID, root string, opts Options) (*Bundle, error) {
	log := logger.G(ctx).WithField("conversation_id", conversationID)

	tree, err := a.tree(ctx, root, opts.Tree)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build file tree")
	}

	turns, err := a.history.LoadRecent(ctx, conversationID, opts.HistoryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load history")
	}

	skillsSection := ""
	if opts.IncludeSkills {
		if a.catalog == nil {
			return nil, errors.New("failed to load skills: no skill catalog configured")
		}
		catalog, issues := a.catalog(ctx)
		if len(issues) > 0 {
			log.WithField("issues", len(issues)).Warn("skill catalog loaded with issues")
		}
		skillsSection = skills.RenderSummary(catalog, opts.SkillNames)
	}

	data := ContextData{
		FileTree:       tree,
		SkillsSection:  skillsSection,
		HistorySummary: Summarize(turns),
		ProjectState:   ProjectState(tree, turns),
		TurnCount:      len(turns),
	}

	templateID := opts.TemplateID
	if templateID == "" {
		templateID = sysprompt.DefaultTemplateID
	}
	prompt, err := a.filler.Fill(templateID, map[string]string{
		sysprompt.KeyFileTree:       data.FileTree,
		sysprompt.KeyHistorySummary: data.HistorySummary,
		sysprompt.KeyProjectState:   data.ProjectState,
		sysprompt.KeySkillsSection:  data.SkillsSection,
		sysprompt.KeyRootPath:       root,
		sysprompt.KeyDate:           a.now().Format("2006-01-02"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fill system prompt")
	}

	log.WithField("turns", len(turns)).WithField("skills", opts.IncludeSkills).Debug("assembled context")
	return &Bundle{
		SystemPrompt:    prompt,
		HistoryMessages: Messages(turns),
		ContextData:     data,
	}, nil
}

// RoleFor maps a stored sender to a message role. Unknown senders are users.
func RoleFor(sender string) llm.Role {
	switch strings.ToLower(strings.TrimSpace(sender)) {
	case history.SenderAgent, string(llm.RoleAssistant):
		return llm.RoleAssistant
	case history.SenderSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}

// Messages maps turns to messages, keeping every turn.
func Messages(turns []history.Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, turn := range turns {
		msgs[i] = llm.Message{Role: RoleFor(turn.Sender), Content: turn.Content}
	}
	return msgs
}

// Summarize renders one "[role] content" line per turn.
func Summarize(turns []history.Turn) string {
	if len(turns) == 0 {
		return "No earlier turns in this conversation."
	}
	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = fmt.Sprintf("[%s] %s", RoleFor(turn.Sender), clipRunes(strings.Join(strings.Fields(turn.Content), " "), summaryClip))
	}
	return strings.Join(lines, "\n")
}

// ProjectState labels the request: empty repository, first turn, or ongoing.
func ProjectState(tree string, turns []history.Turn) string {
	switch {
	case strings.TrimSpace(tree) == "":
		return StateEmpty
	case len(turns) == 0:
		return StateNewConversation
	default:
		return StateOngoing
	}
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
