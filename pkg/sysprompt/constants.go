package sysprompt

import "embed"

//go:embed templates/*
var TemplateFS embed.FS

// DefaultTemplateID names the embedded system prompt template.
const DefaultTemplateID = "system"

// Placeholder keys filled by the context assembler.
const (
	KeyFileTree       = "file_tree"
	KeyHistorySummary = "history_summary"
	KeyProjectState   = "project_state"
	KeySkillsSection  = "skills_section"
	KeyRootPath       = "root_path"
	KeyDate           = "date"
)
