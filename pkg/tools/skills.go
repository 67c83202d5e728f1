package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/skills"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

// CatalogFunc loads the current skill catalog.
type CatalogFunc func(ctx context.Context) (*skills.Catalog, skills.Issues)

// SkillsTool exposes full skill protocols on demand.
type SkillsTool struct {
	load CatalogFunc
}

// NewSkillsTool creates a skills tool over load.
func NewSkillsTool(load CatalogFunc) *SkillsTool {
	return &SkillsTool{load: load}
}

// GetBodyInput is the input of skills.get_body.
type GetBodyInput struct {
	Name string `json:"name" jsonschema:"description=Skill name as shown in the skills summary"`
}

// ListSkillsInput is the input of skills.list.
type ListSkillsInput struct{}

func (t *SkillsTool) Name() string { return "skills" }

func (t *SkillsTool) Description() string {
	return "Fetch full skill protocols"
}

func (t *SkillsTool) Actions() []tooltypes.Action {
	return []tooltypes.Action{
		{
			Name:        "get_body",
			Description: "Return the full protocol text of a skill, including auxiliary sub-protocols.",
			Schema:      GenerateSchema[GetBodyInput](),
			Handler:     t.getBody,
		},
		{
			Name:        "list",
			Description: "List every loaded skill with its type.",
			Schema:      GenerateSchema[ListSkillsInput](),
			Handler:     t.list,
		},
	}
}

func (t *SkillsTool) getBody(ctx context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[GetBodyInput](inv)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Name) == "" {
		return "", errors.New("name is required")
	}
	catalog, _ := t.load(ctx)
	return catalog.Body(in.Name)
}

func (t *SkillsTool) list(ctx context.Context, _ tooltypes.Invocation) (string, error) {
	catalog, _ := t.load(ctx)
	if catalog.Len() == 0 {
		return "no skills loaded", nil
	}
	var out strings.Builder
	for _, d := range catalog.All() {
		kind := "skill"
		if !d.IsTopLevel() {
			kind = d.Type
		}
		fmt.Fprintf(&out, "%s (%s, v%s): %s\n", d.Name, kind, d.DisplayVersion(), d.Description)
	}
	return out.String(), nil
}
