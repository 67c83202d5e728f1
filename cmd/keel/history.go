package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/presenter"
)

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "Show stored conversations or the turns of one conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(ctx, viper.GetViper())
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			conversations, err := store.ListConversations(ctx, limit)
			if err != nil {
				return err
			}
			if len(conversations) == 0 {
				presenter.Info("no conversations yet")
				return nil
			}
			for _, c := range conversations {
				fmt.Fprintf(out, "%s  %3d turns  last %s\n", c.ID, c.TurnCount, c.LastTurnAt.Local().Format(time.DateTime))
			}
			return nil
		}

		turns, err := history.NewLoader(store).LoadRecent(ctx, args[0], limit)
		if err != nil {
			return err
		}
		for _, turn := range turns {
			fmt.Fprintf(out, "[%s] %s:\n%s\n\n", turn.CreatedAt.Local().Format(time.DateTime), turn.Sender, turn.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", history.DefaultLimit, "Maximum number of entries to show")
}
