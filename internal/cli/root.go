// Package cli implements the goalctl operator command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/goalpath/internal/config"
)

// Env is what commands need from the process. Tests replace it.
type Env struct {
	In         io.Reader
	Out        io.Writer
	LoadConfig func() (*config.Config, error)
}

// DefaultEnv reads .env and the process environment.
func DefaultEnv() *Env {
	return &Env{
		In:  os.Stdin,
		Out: os.Stdout,
		LoadConfig: func() (*config.Config, error) {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
			return config.Load()
		},
	}
}

// NewRootCmd creates the top-level "goalctl" command.
func NewRootCmd(env *Env) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "goalctl",
		Short:         "Operate the Goalpath planning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	root.SetIn(env.In)
	root.SetOut(env.Out)

	root.AddCommand(
		newServeCmd(env),
		newSessionCmd(env),
		newChatCmd(env),
		newOracleCmd(env),
	)

	return root
}
