// Command onitu-broker runs the broker: a lightweight command endpoint
// answering GET_FILE(fid) requests by proxying a chunked read from
// whichever driver currently holds an up-to-date copy. Everything
// delegates to a cobra root command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MontBlanc-69/onitu/internal/broker"
	"github.com/MontBlanc-69/onitu/internal/config"
	"github.com/MontBlanc-69/onitu/internal/daemon"
	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/store"
)

var version = "dev"

var (
	flagConfigPath string
	flagDataDir    string
	flagListenAddr string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "onitu-broker",
		Short:         "Run the onitu GET_FILE broker",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runBroker,
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "state database directory (default: platform data dir)")
	cmd.Flags().StringVar(&flagListenAddr, "listen", "127.0.0.1:0", "address for the command endpoint")

	return cmd
}

func runBroker(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	cfgPath := config.ResolveConfigPath(env, cli, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger = buildLogger(cfg)

	ctx := daemon.ShutdownContext(cmd.Context(), logger)

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil { //nolint:mnd // owner-only
		return fmt.Errorf("creating data dir: %w", err)
	}

	db, err := store.Open(ctx, dataDir+"/onitu.db", logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer db.Close()

	cleanup, err := daemon.WritePIDFile(dataDir + "/broker.pid")
	if err != nil {
		return err
	}
	defer cleanup()

	b := broker.New(db, logger)
	defer b.Close()

	cmdServer := fabric.NewCommandServer(b.HandleCommand, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return cmdServer.Serve(gctx, flagListenAddr) })

	g.Go(func() error {
		for cmdServer.Addr() == "" {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
		}

		logger.Info("broker command endpoint bound", slog.String("addr", cmdServer.Addr()))

		return db.PutDriverRouter(gctx, "broker", cmdServer.Addr())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Logging.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
