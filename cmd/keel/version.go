package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/keel/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of keel in JSON format.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := version.Get().JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}
