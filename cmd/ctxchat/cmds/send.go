package cmds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat"

	"github.com/spf13/cobra"
)

func newSendCommand(a *app) *cobra.Command {
	var (
		temperature float64
		model       string
		maxTokens   int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "send KEY TEXT...",
		Short: "Run a single exchange and print the response",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := &chat.Overrides{}
			if cmd.Flags().Changed("temperature") {
				overrides.Temperature = &temperature
			}
			if cmd.Flags().Changed("model") {
				overrides.Model = &model
			}
			if cmd.Flags().Changed("max-tokens") {
				overrides.MaxTokens = &maxTokens
			}

			res, err := a.orchestrator.Chat(cmd.Context(), args[0], strings.Join(args[1:], " "), overrides)
			if err != nil {
				if ce, ok := chat.AsCompletionError(err); ok && verbose && len(ce.Raw) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "completion: %s\n", ce.Raw)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Text)
			if verbose {
				params, _ := json.MarshalIndent(res.Params, "", "  ")
				fmt.Fprintf(out, "\nparams: %s\ncompletion: %s\n", params, res.Raw)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature override")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "max tokens override")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the final parameters and raw completion")
	return cmd
}
