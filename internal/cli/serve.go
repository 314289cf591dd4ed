package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ashureev/goalpath/internal/app"
	"github.com/ashureev/goalpath/internal/oracle"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func useServerLogging() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

func newServeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket planning server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			useServerLogging()

			ctx, stop := signalContext()
			defer stop()
			return app.Serve(ctx, cfg)
		},
	}
}

func newOracleCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Work with the language model oracle",
	}
	cmd.AddCommand(newOracleServeCmd(env))
	return cmd
}

func newOracleServeCmd(env *Env) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the configured oracle provider over gRPC",
		Long: "Runs a gRPC oracle service backed by the configured provider, so " +
			"planning servers can use it with ORACLE_PROVIDER=grpc.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Oracle.Provider == oracle.ProviderGRPC {
				return fmt.Errorf("oracle serve needs a concrete provider, not %q", cfg.Oracle.Provider)
			}
			useServerLogging()

			ctx, stop := signalContext()
			defer stop()

			ocfg, err := app.OracleConfig(cfg.Oracle)
			if err != nil {
				return err
			}
			o, err := oracle.New(ctx, ocfg)
			if err != nil {
				return err
			}
			defer o.Close()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serveOracle(ctx, lis, o)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "Listen address")
	return cmd
}

// serveOracle serves o on lis until ctx is done.
func serveOracle(ctx context.Context, lis net.Listener, o oracle.Oracle) error {
	srv := grpc.NewServer()
	oracle.RegisterServer(srv, o)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping oracle service")
		srv.GracefulStop()
	}()

	slog.Info("Oracle service listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("oracle service: %w", err)
	}
	return nil
}
