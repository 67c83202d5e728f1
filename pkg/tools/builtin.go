package tools

import (
	"github.com/jingkaihe/keel/pkg/history"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

// NewBuiltinRegistry registers the files tool plus, when their backends are
// available, the records and skills tools.
func NewBuiltinRegistry(querier history.Querier, catalog CatalogFunc) (*Registry, error) {
	toolset := []tooltypes.Tool{&FilesTool{}}
	if querier != nil {
		toolset = append(toolset, NewRecordsTool(querier))
	}
	if catalog != nil {
		toolset = append(toolset, NewSkillsTool(catalog))
	}
	return NewRegistry(toolset...)
}
