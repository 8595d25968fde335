// Command onitu-referee runs the scheduling daemon: it watches every
// file record, decides which targets need a transfer from an
// up-to-date source, and applies TRANSFER_COMPLETE/DELETE notifications
// as drivers report them. Everything delegates to a cobra root command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MontBlanc-69/onitu/internal/config"
	"github.com/MontBlanc-69/onitu/internal/daemon"
	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/referee"
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
		Use:           "onitu-referee",
		Short:         "Run the onitu scheduling daemon",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runReferee,
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "state database directory (default: platform data dir)")
	cmd.Flags().StringVar(&flagListenAddr, "listen", "127.0.0.1:0", "address for the command endpoint")

	return cmd
}

func runReferee(cmd *cobra.Command, _ []string) error {
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

	if err := db.PutRules(ctx, convertRules(cfg.Rules)); err != nil {
		return fmt.Errorf("publishing rules snapshot: %w", err)
	}

	cleanup, err := daemon.WritePIDFile(dataDir + "/referee.pid")
	if err != nil {
		return err
	}
	defer cleanup()

	r := referee.New(db, logger)
	cmdServer := fabric.NewCommandServer(r.HandleCommand, logger)

	g, gctx := errgroup.WithContext(ctx)

	addrReady := make(chan struct{})

	g.Go(func() error { return cmdServer.Serve(gctx, flagListenAddr) })

	g.Go(func() error {
		for cmdServer.Addr() == "" {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
		}

		close(addrReady)

		return db.PutRefereeAddr(gctx, cmdServer.Addr())
	})

	g.Go(func() error {
		select {
		case <-addrReady:
		case <-gctx.Done():
			return nil
		}

		logger.Info("command endpoint bound", slog.String("addr", cmdServer.Addr()))

		return r.Run(gctx)
	})

	daemon.ReloadContext(gctx, logger, func() {
		if reloaded, err := config.Load(cfgPath, logger); err != nil {
			logger.Warn("reloading config failed", slog.String("error", err.Error()))
		} else if err := db.PutRules(gctx, convertRules(reloaded.Rules)); err != nil {
			logger.Warn("publishing reloaded rules failed", slog.String("error", err.Error()))
		}
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

func convertRules(rules []config.RoutingRule) []store.RoutingRule {
	out := make([]store.RoutingRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, store.RoutingRule{Match: r.Match, Sync: r.Sync, Mode: r.Mode})
	}

	return out
}
