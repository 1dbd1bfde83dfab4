package cmds

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat KEY",
		Short: "Interactive conversation bound to a session key",
		Long: `Reads one line per turn from stdin and prints the response. Empty lines
are skipped; "exit" or end of input stops the session. Failed turns are
reported and the session continues with a cleared history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.repl(cmd, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&a.watch, "watch", false, "reload the config file on change")
	return cmd
}

func (a *app) repl(cmd *cobra.Command, key string, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(in)

	for {
		c, err := a.orchestrator.Store().Get(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s> ", c.Username)

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}

		res, err := a.orchestrator.Chat(ctx, key, text, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s> %s\n", c.Agentname, res.Text)
	}
}
