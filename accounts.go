package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seadrive/seadrive-go/internal/account"
	"github.com/seadrive/seadrive-go/internal/repopath"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage saved accounts",
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsSwitchCmd())
	cmd.AddCommand(newAccountsRemoveCmd())
	cmd.AddCommand(newAccountsInfoCmd())

	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsList(cmd.Context())
		},
	}
}

func runAccountsList(ctx context.Context) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	accounts := env.manager.Accounts()
	if len(accounts) == 0 {
		statusf("No accounts configured. Run \"seadrive-go login\" to add one.\n")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tUSERNAME\tSERVER\tSTATUS\tLAST USED")

	for i, a := range accounts {
		marker := " "
		if i == 0 {
			marker = "*"
		}

		status := "signed out"
		if a.IsValid() {
			status = "signed in"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			marker, a.Username, a.ServerURL, status, formatLastVisited(a.LastVisited))
	}

	return w.Flush()
}

func newAccountsSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <server-url> <username>",
		Short: "Switch to a saved account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsSwitch(cmd.Context(), args[0], args[1])
		},
	}
}

func runAccountsSwitch(ctx context.Context, serverURL, username string) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	target := account.Account{ServerURL: serverURL, Username: username}

	a := env.manager.AccountBySignature(target.Signature())
	if a.Username == "" {
		return fmt.Errorf("no saved account for %s on %s", username, serverURL)
	}

	switched, err := env.manager.ValidateAndUse(ctx, a)
	if err != nil {
		return err
	}

	if switched {
		statusf("Switched to %s on %s.\n", a.Username, a.ServerURL)
	} else {
		statusf("Already using %s on %s.\n", a.Username, a.ServerURL)
	}

	return nil
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-url> <username>",
		Short: "Remove a saved account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsRemove(cmd.Context(), args[0], args[1])
		},
	}
}

func runAccountsRemove(ctx context.Context, serverURL, username string) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	target := account.Account{ServerURL: serverURL, Username: username}

	a := env.manager.AccountBySignature(target.Signature())
	if a.Username == "" {
		return fmt.Errorf("no saved account for %s on %s", username, serverURL)
	}

	if err := env.manager.RemoveAccount(ctx, a); err != nil {
		return err
	}

	statusf("Removed %s on %s.\n", a.Username, a.ServerURL)

	return nil
}

func newAccountsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show details for the current account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsInfo(cmd.Context())
		},
	}
}

func runAccountsInfo(ctx context.Context) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	a := env.manager.Current()
	if a.Username == "" {
		return fmt.Errorf("no accounts configured")
	}

	fmt.Printf("Server:    %s\n", a.ServerURL)
	fmt.Printf("Username:  %s\n", a.Username)

	if a.AccountInfo.Name != "" {
		fmt.Printf("Name:      %s\n", a.AccountInfo.Name)
	}

	if v := a.ServerInfo.VersionString(); v != "" {
		edition := "community"
		if a.ServerInfo.ProEdition() {
			edition = "pro"
		}

		fmt.Printf("Server:    version %s (%s edition)\n", v, edition)
	}

	if a.AccountInfo.TotalStorage > 0 {
		fmt.Printf("Storage:   %s of %s used\n",
			formatSize(a.AccountInfo.UsedStorage), formatSize(a.AccountInfo.TotalStorage))
	}

	fmt.Printf("Last used: %s\n", formatLastVisited(a.LastVisited))

	return nil
}

func newCheckCachedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-cached <path>",
		Short: "Report whether a file under the mount is cached locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckCached(cmd.Context(), args[0])
		},
	}
}

func runCheckCached(ctx context.Context, path string) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	querier := &repopath.Querier{
		MountRoot: env.cfg.MountDir,
		Resolver:  env.daemon,
		Logger:    env.logger,
	}

	cached, err := querier.IsFileCached(ctx, path)
	if err != nil {
		return err
	}

	if cached {
		fmt.Println("cached")
	} else {
		fmt.Println("not cached")
	}

	return nil
}

// formatLastVisited renders a millisecond timestamp for display, with a
// placeholder for accounts never used since they were saved.
func formatLastVisited(ms int64) string {
	if ms == 0 {
		return "never"
	}

	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
