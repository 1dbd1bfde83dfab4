package cmds

import (
	"fmt"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/spf13/cobra"
)

func newResetCommand(a *app) *cobra.Command {
	var (
		username     string
		agentname    string
		description  string
		historyCount int
	)

	cmd := &cobra.Command{
		Use:   "reset KEY",
		Short: "Clear the history of a session, optionally changing its labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts chatports.ResetOptions
			if cmd.Flags().Changed("username") {
				opts.Username = &username
			}
			if cmd.Flags().Changed("agentname") {
				opts.Agentname = &agentname
			}
			if cmd.Flags().Changed("description") {
				opts.ChatDescription = &description
			}
			if cmd.Flags().Changed("history-count") {
				opts.HistoryCount = &historyCount
			}
			if err := a.orchestrator.Store().Reset(cmd.Context(), args[0], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "speaker label of the requester")
	cmd.Flags().StringVar(&agentname, "agentname", "", "speaker label of the responder")
	cmd.Flags().StringVar(&description, "description", "", "chat description preamble")
	cmd.Flags().IntVar(&historyCount, "history-count", 0, "history window; 0 or less keeps every line")
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove KEY",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.orchestrator.Store().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newPurgeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.orchestrator.Store().RemoveAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed all sessions")
			return nil
		},
	}
}
