package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/filetree"
)

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Print the repository layout the agent sees",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		root, err := resolveRoot(path)
		if err != nil {
			return err
		}

		opts := treeOptions(viper.GetViper())
		if cmd.Flags().Changed("max-depth") {
			opts.MaxDepth, _ = cmd.Flags().GetInt("max-depth")
		}
		if cmd.Flags().Changed("max-lines") {
			opts.MaxLines, _ = cmd.Flags().GetInt("max-lines")
		}

		tree, err := filetree.Build(cmd.Context(), root, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tree)
		return nil
	},
}

func init() {
	treeCmd.Flags().Int("max-depth", filetree.DefaultMaxDepth, "Maximum directory depth")
	treeCmd.Flags().Int("max-lines", filetree.DefaultMaxLines, "Maximum number of lines before truncation")
}
