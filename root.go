package main

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/seadrive/seadrive-go/internal/account"
	"github.com/seadrive/seadrive-go/internal/api"
	"github.com/seadrive/seadrive-go/internal/config"
	"github.com/seadrive/seadrive-go/internal/daemon"
	"github.com/seadrive/seadrive-go/internal/login"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// accountsDBName is the accounts database file under the data directory.
const accountsDBName = "accounts.db"

// httpClientTimeout bounds metadata requests so a dead server cannot
// hang a CLI command indefinitely.
const httpClientTimeout = 30 * time.Second

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "seadrive-go",
		Short:   "Cloud storage drive client",
		Long:    "A multi-account drive-mount client for self-hosted cloud storage servers.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newAccountsCmd())
	cmd.AddCommand(newCheckCachedCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

// configPath resolves the config file location: the --config flag wins,
// then the platform default.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultConfigPath()
}

// buildLogger creates an slog.Logger from the logging config and the
// verbosity flags. Format "auto" picks the text handler on a terminal
// and JSON when stderr is redirected to a file or collector.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.Format
	if format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// appEnv is the explicitly-constructed context every command runs in:
// config, logger, store, daemon client, and the account manager wired
// together. No ambient globals — collaborators receive what they need.
type appEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *account.Store
	daemon  *daemon.Client
	manager *account.Manager
}

// newAppEnv resolves configuration, opens the accounts store, and
// assembles the account manager with its login flows. A store failure is
// fatal here: no account operation works without it.
func newAppEnv(ctx context.Context) (*appEnv, error) {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}

	store, err := account.OpenStore(filepath.Join(cfg.DataDir, accountsDBName), logger)
	if err != nil {
		return nil, err
	}

	daemonClient := daemon.NewClient(cfg.DaemonURL, logger)
	fetcher := api.NewClient(&http.Client{Timeout: httpClientTimeout}, logger)

	manager := account.NewManager(account.ManagerOptions{
		Store:        store,
		Logger:       logger,
		Daemon:       daemonClient,
		Fetcher:      fetcher,
		ComputerName: cfg.ComputerName,
	})

	save := func(ctx context.Context, a account.Account) account.Account {
		return manager.SaveAccount(ctx, a)
	}

	credential := &login.CredentialFlow{
		In:     bufio.NewReader(os.Stdin),
		Out:    os.Stderr,
		Auth:   fetcher,
		Save:   save,
		Logger: logger,
	}

	federated := &login.FederatedFlow{
		Launch: launchFederated,
		Save:   save,
		Logger: logger,
	}

	manager.SetLoginFlows(federated,
		login.NewIntegratedFlow(nil, save, logger), credential)

	if err := manager.Start(ctx); err != nil {
		store.Close()
		return nil, err
	}

	return &appEnv{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		daemon:  daemonClient,
		manager: manager,
	}, nil
}

// close tears the environment down in reverse construction order.
func (e *appEnv) close() {
	e.manager.Close()

	if err := e.daemon.Close(); err != nil {
		e.logger.Debug("daemon client close", "error", err)
	}

	if err := e.store.Close(); err != nil {
		e.logger.Warn("store close", "error", err)
	}
}
