package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/agent"
	"github.com/jingkaihe/keel/pkg/assembler"
	"github.com/jingkaihe/keel/pkg/db"
	"github.com/jingkaihe/keel/pkg/filetree"
	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/history/sqlite"
	"github.com/jingkaihe/keel/pkg/llm"
	"github.com/jingkaihe/keel/pkg/skills"
	"github.com/jingkaihe/keel/pkg/sysprompt"
	"github.com/jingkaihe/keel/pkg/tools"
)

const defaultSkillsDir = ".keel/skills"

// app holds the components one command invocation wires together.
type app struct {
	root    string
	store   *sqlite.Store
	memory  *history.MemoryStore
	catalog tools.CatalogFunc
	agent   *agent.Agent
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

type turnStore interface {
	history.Store
	history.Querier
}

// turns returns the store in use: sqlite, or memory when ephemeral.
func (a *app) turns() turnStore {
	if a.store != nil {
		return a.store
	}
	return a.memory
}

type appOptions struct {
	root      string
	ephemeral bool
	readOnly  bool
	noSkills  bool
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve root %s", root)
	}
	return abs, nil
}

func databasePath(v *viper.Viper) (string, error) {
	if p := v.GetString("db_path"); p != "" {
		return p, nil
	}
	return db.DefaultDBPath()
}

func openStore(ctx context.Context, v *viper.Viper) (*sqlite.Store, error) {
	path, err := databasePath(v)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}
	return sqlite.Open(ctx, path)
}

// skillsDir resolves skills.dir against root; the default lives inside the repository.
func skillsDir(v *viper.Viper, root string) string {
	dir := v.GetString("skills.dir")
	if dir == "" {
		dir = defaultSkillsDir
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}

func catalogLoader(dir string) tools.CatalogFunc {
	return func(ctx context.Context) (*skills.Catalog, skills.Issues) {
		return skills.LoadCatalog(ctx, dir)
	}
}

func treeOptions(v *viper.Viper) filetree.Options {
	return filetree.Options{
		MaxDepth: v.GetInt("tree.max_depth"),
		MaxLines: v.GetInt("tree.max_lines"),
	}
}

func agentConfig(v *viper.Viper, opts appOptions) agent.Config {
	return agent.Config{
		MaxToolIterations: v.GetInt("agent.max_tool_iterations"),
		ModelTimeout:      v.GetDuration("agent.model_timeout"),
		ReadOnly:          opts.readOnly || v.GetBool("agent.read_only"),
		Context: assembler.Options{
			IncludeSkills: !opts.noSkills && v.GetBool("skills.enabled"),
			SkillNames:    v.GetStringSlice("skills.allowed"),
			HistoryLimit:  v.GetInt("agent.history_limit"),
			Tree:          treeOptions(v),
			TemplateID:    v.GetString("templates.id"),
		},
	}
}

func newFiller(v *viper.Viper) *sysprompt.Filler {
	var opts []sysprompt.Option
	if dir := v.GetString("templates.dir"); dir != "" {
		opts = append(opts, sysprompt.WithOverrideDir(dir))
	}
	return sysprompt.NewFiller(opts...)
}

// newApp wires storage, skills, tools, the model client and the agent.
func newApp(ctx context.Context, v *viper.Viper, opts appOptions) (*app, error) {
	root, err := resolveRoot(opts.root)
	if err != nil {
		return nil, err
	}
	a := &app{root: root, catalog: catalogLoader(skillsDir(v, root))}

	if opts.ephemeral {
		a.memory = history.NewMemoryStore()
	} else {
		store, err := openStore(ctx, v)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open history store")
		}
		a.store = store
	}
	turns := a.turns()

	registry, err := tools.NewBuiltinRegistry(turns, a.catalog)
	if err != nil {
		a.Close()
		return nil, err
	}

	llmConfig, err := llm.ConfigFrom(v)
	if err != nil {
		a.Close()
		return nil, err
	}
	client, err := llm.NewClient(ctx, llmConfig)
	if err != nil {
		a.Close()
		return nil, err
	}

	builder := assembler.New(history.NewLoader(turns), assembler.CatalogLoader(a.catalog),
		assembler.WithFiller(newFiller(v)))
	a.agent = agent.New(client, builder, registry, agentConfig(v, opts), agent.WithRecorder(turns))
	return a, nil
}
