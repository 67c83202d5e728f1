package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/presenter"
	"github.com/jingkaihe/keel/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills [dir]",
	Short: "List the skills found under a directory",
	Long: `List the skills found under a directory (default: skills.dir, or
.keel/skills in the current repository). Files that fail to load are reported
as warnings and skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			root, err := resolveRoot(".")
			if err != nil {
				return err
			}
			dir = skillsDir(viper.GetViper(), root)
		}

		catalog, issues := skills.LoadCatalog(ctx, dir)
		for _, issue := range issues {
			presenter.Warning(issue.Error())
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(catalog.All(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			fmt.Fprint(out, skills.RenderSummary(catalog, nil))
			return nil
		}

		if catalog.Len() == 0 {
			presenter.Info("no skills found in " + dir)
			return nil
		}
		presenter.Section(fmt.Sprintf("Skills in %s", dir))
		for _, d := range catalog.All() {
			kind := "skill"
			if !d.IsTopLevel() {
				kind = d.Type
			}
			fmt.Fprintf(out, "%-24s %-10s %-8s %s\n", d.Name, kind, d.DisplayVersion(), d.RelativePath)
		}
		return nil
	},
}

func init() {
	skillsCmd.Flags().Bool("json", false, "Print descriptors as JSON")
	skillsCmd.Flags().Bool("summary", false, "Print the summary section placed in the system prompt")
}
