package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/seadrive/seadrive-go/internal/account"
)

// readPassword is a test seam for term.ReadPassword. Tests replace it
// to avoid touching the terminal.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// CredentialFlow is the generic credential-entry variant: it prompts for
// server, username, and password on the terminal, pre-filled from the
// preset account.
type CredentialFlow struct {
	In     *bufio.Reader
	Out    io.Writer
	Auth   Authenticator
	Save   SaveFunc
	Logger *slog.Logger
}

// Attempt runs the prompt sequence. An empty line where input is
// required, or end of input, counts as cancellation, not an error.
func (f *CredentialFlow) Attempt(ctx context.Context, preset account.Account) (bool, error) {
	serverURL, ok, err := f.promptDefault("Server URL", preset.ServerURL)
	if err != nil || !ok {
		return false, err
	}

	username, ok, err := f.promptDefault("Username", preset.Username)
	if err != nil || !ok {
		return false, err
	}

	fmt.Fprint(f.Out, "Password: ")
	password, err := readPassword()
	fmt.Fprintln(f.Out)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}

		return false, fmt.Errorf("login: reading password: %w", err)
	}

	if len(password) == 0 {
		return false, nil
	}

	token, err := f.Auth.Authenticate(ctx, serverURL, username, string(password))
	if err != nil {
		return false, fmt.Errorf("login: authenticating %s@%s: %w", username, serverURL, err)
	}

	a := preset
	a.ServerURL = strings.TrimRight(serverURL, "/")
	a.Username = username
	a.Token = token

	// A brand-new account (no preset key) starts with automatic login on.
	if preset.ServerURL == "" && preset.Username == "" {
		a.AutomaticLogin = true
	}

	f.Save(ctx, a)

	if f.Logger != nil {
		f.Logger.Info("login accepted", "username", username, "url", a.ServerURL)
	}

	return true, nil
}

// promptDefault reads one line, offering def as the value kept on an
// empty answer. With no default, an empty answer cancels the flow.
func (f *CredentialFlow) promptDefault(label, def string) (string, bool, error) {
	if def != "" {
		fmt.Fprintf(f.Out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(f.Out, "%s: ", label)
	}

	line, err := f.In.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, fmt.Errorf("login: reading %s: %w", strings.ToLower(label), err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		if def == "" {
			return "", false, nil
		}

		line = def
	}

	return line, true, nil
}

// Compile-time interface check.
var _ account.LoginFlow = (*CredentialFlow)(nil)
