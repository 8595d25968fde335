// Command onitu-driver runs one configured service as an OS process: it
// authenticates with its backend, spawns the change-intake worker (event
// or poll), and serves chunk requests over the transfer fabric until
// signaled to stop. Everything delegates to a cobra root command with
// persistent flags rather than subcommands, since one process always
// runs exactly one service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/MontBlanc-69/onitu/internal/config"
	"github.com/MontBlanc-69/onitu/internal/daemon"
	"github.com/MontBlanc-69/onitu/internal/driver/localfs"
	"github.com/MontBlanc-69/onitu/internal/driver/objectstore"
	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
	"github.com/MontBlanc-69/onitu/internal/tokenfile"
)

var version = "dev"

var (
	flagConfigPath string
	flagService    string
	flagDataDir    string
	flagRefereeURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "onitu-driver",
		Short:         "Run one onitu service as a driver process",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runDriver,
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.Flags().StringVar(&flagService, "service", "", "name of the [services.<name>] block this process runs")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "state database directory (default: platform data dir)")
	cmd.Flags().StringVar(&flagRefereeURL, "referee-url", "", "ws:// URL of the referee's command endpoint")

	_ = cmd.MarkFlagRequired("service")

	return cmd
}

func runDriver(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	cfgPath := config.ResolveConfigPath(env, cli, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger = buildLogger(cfg)

	svc, ok := cfg.Services[flagService]
	if !ok {
		return fmt.Errorf("no service named %q in config", flagService)
	}

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

	if err := publishConfigSnapshot(ctx, db, cfg); err != nil {
		return err
	}

	handler, err := buildHandler(svc, dataDir, flagService, logger)
	if err != nil {
		return fmt.Errorf("building handler for service %q: %w", flagService, err)
	}

	pidPath := dataDir + "/" + flagService + ".pid"

	cleanup, err := daemon.WritePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	refereeURL := flagRefereeURL
	if refereeURL == "" {
		if addr, ok, err := db.GetRefereeAddr(ctx); err == nil && ok {
			refereeURL = "ws://" + addr + "/fabric"
		}
	}

	p := plug.New(plug.Config{
		DB:          db,
		Driver:      flagService,
		Handler:     handler,
		RefereeURL:  refereeURL,
		MaxInFlight: cfg.Fabric.MaxInFlight,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	addrCh := make(chan string, 1)

	g.Go(func() error { return p.Serve(gctx, "127.0.0.1:0", addrCh) })

	g.Go(func() error {
		select {
		case addr := <-addrCh:
			logger.Info("router bound", slog.String("addr", addr))
			return db.PutDriverRouter(gctx, flagService, addr)
		case <-gctx.Done():
			return nil
		}
	})

	cmdAddrCh := make(chan string, 1)

	g.Go(func() error { return p.ServeTransfers(gctx, "127.0.0.1:0", cmdAddrCh) })

	g.Go(func() error {
		select {
		case addr := <-cmdAddrCh:
			logger.Info("transfer command endpoint bound", slog.String("addr", addr))
			return db.PutDriverCommandAddr(gctx, flagService, addr)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error { return runIntake(gctx, svc, handler, p, db, logger) })

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

func publishConfigSnapshot(ctx context.Context, db *store.DB, cfg *config.Config) error {
	services := make(map[string]store.ServiceConfig, len(cfg.Services))
	for name, svc := range cfg.Services {
		services[name] = store.ServiceConfig{Driver: svc.Driver, Options: svc.Options, Folders: svc.Folders}
	}

	if err := db.PutServices(ctx, services); err != nil {
		return fmt.Errorf("publishing services snapshot: %w", err)
	}

	rules := make([]store.RoutingRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, store.RoutingRule{Match: r.Match, Sync: r.Sync, Mode: r.Mode})
	}

	if err := db.PutRules(ctx, rules); err != nil {
		return fmt.Errorf("publishing rules snapshot: %w", err)
	}

	return nil
}

func buildHandler(svc config.Service, dataDir, serviceName string, logger *slog.Logger) (plug.Handler, error) {
	switch svc.Driver {
	case "localfs":
		root := svc.Options["root"]
		if root == "" {
			return nil, errors.New("localfs requires options.root")
		}

		return localfs.New(root, logger)
	case "objectstore":
		tok, err := loadOrSeedToken(svc, dataDir, serviceName)
		if err != nil {
			return nil, err
		}

		if tok == nil {
			logger.Warn("objectstore service has no access token on file or in options; using in-memory reference store")
			return objectstore.New(objectstore.NewStore(), logger), nil
		}

		baseURL := svc.Options["root"]
		backing := objectstore.NewHTTPStore(baseURL, nil, oauth2.StaticTokenSource(tok), logger)

		return objectstore.New(backing, logger), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", svc.Driver)
	}
}

// loadOrSeedToken returns the objectstore service's access token,
// persisting it to dataDir on first run so later invocations don't need
// the secret repeated in options.
func loadOrSeedToken(svc config.Service, dataDir, serviceName string) (*oauth2.Token, error) {
	tokenPath := dataDir + "/" + serviceName + "-token.json"

	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("loading token file: %w", err)
	}

	if tok != nil {
		return tok, nil
	}

	accessSecret := svc.Options["access_secret"]
	if accessSecret == "" {
		return nil, nil
	}

	tok = &oauth2.Token{AccessToken: accessSecret}

	if err := tokenfile.Save(tokenPath, tok, map[string]string{"access_key": svc.Options["access_key"]}); err != nil {
		return nil, fmt.Errorf("saving token file: %w", err)
	}

	return tok, nil
}

func runIntake(ctx context.Context, svc config.Service, handler plug.Handler, p *plug.Plug, db *store.DB, logger *slog.Logger) error {
	switch svc.Driver {
	case "localfs":
		watcher, ok := handler.(interface {
			Watch(ctx context.Context, emit func(plug.ChangeEvent)) error
		})
		if !ok {
			return nil
		}

		return watcher.Watch(ctx, func(ev plug.ChangeEvent) {
			if err := p.ApplyEvent(ctx, ev); err != nil {
				logger.Warn("applying change event", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		})
	case "objectstore":
		src, ok := handler.(plug.PollSource)
		if !ok {
			return nil
		}

		return runPollLoop(ctx, src, flagService, p, db, logger)
	default:
		return nil
	}
}
