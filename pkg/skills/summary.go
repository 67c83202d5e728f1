package skills

import (
	"fmt"
	"strings"
)

const (
	summaryHeader = "## Available Skills\n\nThe skills below are summaries only. Fetch the full protocol of a skill by name with the skills_get_body tool before following it.\n\n"
	maxTriggers   = 2
)

// RenderSummary renders one line per top-level descriptor. A non-nil names
// filter keeps only the named skills; unknown names are ignored. The result
// is "" when nothing qualifies. Bodies are never included.
func RenderSummary(catalog *Catalog, names []string) string {
	var keep map[string]bool
	if names != nil {
		keep = make(map[string]bool, len(names))
		for _, n := range names {
			keep[n] = true
		}
	}

	var lines []string
	for _, d := range catalog.All() {
		if !d.IsTopLevel() {
			continue
		}
		if keep != nil && !keep[d.Name] {
			continue
		}
		lines = append(lines, summaryLine(d))
	}
	if len(lines) == 0 {
		return ""
	}
	return summaryHeader + strings.Join(lines, "\n") + "\n"
}

func summaryLine(d *Descriptor) string {
	line := fmt.Sprintf("- **%s** (v%s): %s", d.Name, d.DisplayVersion(), oneLine(d.Description))
	if len(d.DecisionTriggers) == 0 {
		return line
	}

	shown := d.DecisionTriggers
	more := ""
	if len(shown) > maxTriggers {
		more = fmt.Sprintf(" (+%d more)", len(shown)-maxTriggers)
		shown = shown[:maxTriggers]
	}
	cleaned := make([]string, len(shown))
	for i, t := range shown {
		cleaned[i] = oneLine(t)
	}
	return line + " | triggers: " + strings.Join(cleaned, "; ") + more
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
