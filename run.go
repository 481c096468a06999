package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/seadrive/seadrive-go/internal/config"
)

// clientNameConfigKey is the daemon config key carrying this machine's
// display name.
const clientNameConfigKey = "client_name"

func newRunCmd() *cobra.Command {
	var refreshInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the resident client session",
		Long: "Keeps the current account signed in, refreshes server metadata\n" +
			"periodically, and reloads the config file when it changes on disk.\n" +
			"Runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), refreshInterval)
		},
	}

	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 10*time.Minute,
		"how often to refresh server metadata for the current account")

	return cmd
}

func runRun(ctx context.Context, refreshInterval time.Duration) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	ctx = shutdownContext(ctx, env.logger)

	holder := config.NewHolder(env.cfg, configPath())

	watcher, err := config.NewWatcher(holder, env.logger)
	if err != nil {
		// A session without live reload is still a session.
		env.logger.Warn("config watching unavailable", "error", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	// Re-validate the saved session the way an interactive start would:
	// automatic-login accounts resume silently, the rest prompt.
	if env.manager.HasAccounts() {
		if _, err := env.manager.ValidateAndUse(ctx, env.manager.Current()); err != nil {
			return err
		}
	} else {
		statusf("No accounts configured. Run \"seadrive-go login\" to add one.\n")
	}

	env.manager.OnAccountsChanged(func() {
		env.logger.Debug("accounts changed")
	})

	clientName := env.cfg.ComputerName

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if current := env.manager.Current(); current.IsValid() {
				env.manager.RefreshServerInfo(ctx, current)
				env.manager.UpdateLastVisited(ctx, current)
			}

			// Push a renamed machine to the daemon after a config reload.
			if cfg := holder.Config(); cfg.ComputerName != clientName {
				clientName = cfg.ComputerName

				if err := env.daemon.SetConfig(ctx, clientNameConfigKey, clientName); err != nil {
					env.logger.Warn("daemon config notification failed", "error", err)
				}
			}
		}
	}
}
