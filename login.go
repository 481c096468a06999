package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seadrive/seadrive-go/internal/account"
	"github.com/seadrive/seadrive-go/internal/login"
)

func newLoginCmd() *cobra.Command {
	var (
		serverURL string
		username  string
		federated bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a server and save the account",
		Long: "Prompts for credentials, obtains an API token from the server\n" +
			"and saves the account. With --federated, single sign-on is used\n" +
			"instead of a password prompt.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), serverURL, username, federated)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (e.g. https://drive.example.com)")
	cmd.Flags().StringVar(&username, "username", "", "account username or email")
	cmd.Flags().BoolVar(&federated, "federated", false, "sign in via single sign-on")

	return cmd
}

func runLogin(ctx context.Context, serverURL, username string, federated bool) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	preset := account.Account{
		ServerURL:    serverURL,
		Username:     username,
		IsShibboleth: federated,
	}

	accepted, err := env.manager.ReloginAccount(ctx, preset)
	if err != nil {
		return err
	}

	if !accepted {
		statusf("Login cancelled.\n")
		return nil
	}

	current := env.manager.Current()
	if current.Username == "" {
		return errors.New("login: no account after sign-in")
	}

	statusf("Signed in as %s on %s.\n", current.Username, current.ServerURL)

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the current account's session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context())
		},
	}
}

func runLogout(ctx context.Context) error {
	env, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if !env.manager.HasAccounts() {
		return errors.New("logout: no accounts configured")
	}

	current := env.manager.Current()

	if !current.IsValid() {
		statusf("Account %s is already signed out.\n", current.Username)
		return nil
	}

	statusf("Signing out %s on %s.\n", current.Username, current.ServerURL)

	// Clearing the active session's token runs the re-login prompt
	// immediately; cancelling it leaves the account signed out.
	env.manager.InvalidateCurrentLogin(ctx)

	return nil
}

// launchFederated is the single sign-on hand-off for a terminal client.
// There is no embedded browser, so the user completes the SSO flow in
// their own browser and pastes the resulting credentials back.
func launchFederated(ctx context.Context, serverURL string) (login.Credentials, bool, error) {
	fmt.Fprintf(os.Stderr, "To sign in, open this page in your browser:\n\n    %s/sso/\n\n", serverURL)
	fmt.Fprintf(os.Stderr, "After signing in, copy the username and token shown by the server.\n")

	var creds login.Credentials

	fmt.Fprint(os.Stderr, "Username: ")
	if _, err := fmt.Scanln(&creds.Username); err != nil {
		return login.Credentials{}, false, nil
	}

	fmt.Fprint(os.Stderr, "Token: ")
	if _, err := fmt.Scanln(&creds.Token); err != nil {
		return login.Credentials{}, false, nil
	}

	if creds.Username == "" || creds.Token == "" {
		return login.Credentials{}, false, nil
	}

	return creds, true, nil
}
