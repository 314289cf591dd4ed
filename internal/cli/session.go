package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/goalpath/internal/planning"
	"github.com/ashureev/goalpath/internal/store"
)

func newSessionCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset a user's planning session",
	}
	cmd.AddCommand(
		newSessionShowCmd(env),
		newSessionResetCmd(env),
	)
	return cmd
}

func openStore(env *Env) (*store.SQLiteStore, error) {
	cfg, err := env.LoadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLite(cfg.DBPath)
}

func newSessionShowCmd(env *Env) *cobra.Command {
	var userID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the user's current phase, result and transcript size",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			repo, err := openStore(env)
			if err != nil {
				return err
			}
			defer repo.Close()

			user, err := repo.GetUser(ctx, userID)
			if err != nil {
				return err
			}
			if user == nil || !user.HasActiveSession() {
				fmt.Fprintf(cmd.OutOrStdout(), "User %s has no planning session.\n", userID)
				return nil
			}
			sess, err := repo.GetSession(ctx, user.CurrentSessionID)
			if err != nil {
				return err
			}
			goals, err := repo.ListGoals(ctx, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sess)
			}

			fmt.Fprintln(out, header("Session "+sess.ID))
			fmt.Fprintf(out, "Phase:       %s\n", sess.Phase)
			fmt.Fprintf(out, "Revision:    %d\n", sess.Revision)
			fmt.Fprintf(out, "Updated:     %s\n", sess.UpdatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "Transcript:  %d turns\n", sess.Transcript.Len())
			fmt.Fprintf(out, "Tasks so far: %d\n", len(sess.Dailies))
			fmt.Fprintf(out, "Saved goals: %d\n", len(goals))
			if sess.Current != nil {
				fmt.Fprintln(out, renderResult(sess.Current))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored session as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionResetCmd(env *Env) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the user's session with a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			repo, err := openStore(env)
			if err != nil {
				return err
			}
			defer repo.Close()

			sess, err := planning.NewSessions(repo, nil).Reset(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s now on session %s (%s).\n", userID, sess.ID, sess.Phase)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
