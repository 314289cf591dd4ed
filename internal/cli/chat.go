package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/goalpath/internal/app"
	"github.com/ashureev/goalpath/internal/oracle"
	"github.com/ashureev/goalpath/internal/planning"
)

const chatHelp = `Type a message to talk to the planner.
  /confirm  accept what is shown
  /show     show it again
  /reset    start over with a new goal
  /quit     leave`

func newChatCmd(env *Env) *cobra.Command {
	var userID string
	var dry bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Plan a goal interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dry {
				if err := os.Setenv("ORACLE_PROVIDER", oracle.ProviderDry); err != nil {
					return err
				}
			}
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			d, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			return runChat(ctx, d.Planner, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "User ID to plan as")
	cmd.Flags().BoolVar(&dry, "dry", false, "Use the built-in dry oracle instead of a model")
	return cmd
}

// runChat drives the planner from line-oriented input until EOF or /quit.
func runChat(ctx context.Context, p *planning.Planner, userID string, in io.Reader, out io.Writer) error {
	ctx = planning.WithProgress(ctx, func(pr planning.Progress) {
		fmt.Fprintln(out, renderProgress(pr))
	})

	last, err := p.LoadCurrent(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, styleDim.Render(chatHelp))
	fmt.Fprintln(out, renderDisplayable(last))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, styleHeader.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		var next planning.Displayable
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, styleDim.Render(chatHelp))
			continue
		case "/show":
			fmt.Fprintln(out, renderDisplayable(last))
			continue
		case "/reset":
			next, err = p.Reset(ctx, userID)
		case "/confirm":
			next, err = p.SubmitConfirmation(ctx, userID, planning.Confirmation{
				SessionID: last.SessionID,
				Result:    last.Payload,
			})
		default:
			next, err = p.SubmitQuery(ctx, userID, planning.Query{SessionID: last.SessionID, Text: line})
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, renderError(err))
			continue
		}
		last = next
		fmt.Fprintln(out, renderDisplayable(last))
	}
}
