package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/agent"
	"github.com/jingkaihe/keel/pkg/presenter"
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Send one message to the agent and stream the answer",
	Long: `Send one message to the agent and stream its answer to stdout.

Tool calls and their results are printed as they happen. Pass --conversation
to continue an earlier conversation; without it a new one is started and its
id is printed at the end.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		root, _ := cmd.Flags().GetString("root")
		ephemeral, _ := cmd.Flags().GetBool("ephemeral")
		readOnly, _ := cmd.Flags().GetBool("read-only")
		noSkills, _ := cmd.Flags().GetBool("no-skills")
		quiet, _ := cmd.Flags().GetBool("quiet")
		conversationID, _ := cmd.Flags().GetString("conversation")
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		a, err := newApp(ctx, viper.GetViper(), appOptions{root: root, ephemeral: ephemeral, readOnly: readOnly, noSkills: noSkills})
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.agent.Stream(ctx, agent.Request{
			ConversationID: conversationID,
			Message:        strings.Join(args, " "),
			Root:           a.root,
		})
		if err != nil {
			return err
		}

		presenter.SetQuiet(quiet)
		var final agent.Event
		for ev := range events {
			presenter.Event(ev)
			if ev.Type == agent.EventFinal {
				final = ev
			}
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "interrupted")
		}
		if final.Error != "" {
			return errors.New("run failed")
		}
		if !ephemeral && !quiet {
			presenter.Separator()
			presenter.Info("conversation: " + conversationID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("root", ".", "Repository root the agent works in")
	runCmd.Flags().String("conversation", "", "Conversation id to continue")
	runCmd.Flags().Bool("ephemeral", false, "Keep history in memory only")
	runCmd.Flags().Bool("read-only", false, "Reject tool actions that modify files")
	runCmd.Flags().Bool("no-skills", false, "Leave the skills summary out of the prompt")
	runCmd.Flags().BoolP("quiet", "q", false, "Print the answer only")
}
