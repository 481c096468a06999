package login

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seadrive/seadrive-go/internal/account"
)

// FederatedFlow is the web single-sign-on variant. The actual identity
// exchange happens in an external helper (a browser window against the
// server's SSO endpoint); this flow only cares about its outcome.
type FederatedFlow struct {
	Launch LaunchFunc
	Save   SaveFunc
	Logger *slog.Logger
}

// Attempt runs the external exchange for the preset account's server and
// saves the resulting identity. The saved account keeps the federated
// scheme flag so the next re-login uses this flow again.
func (f *FederatedFlow) Attempt(ctx context.Context, preset account.Account) (bool, error) {
	if preset.ServerURL == "" {
		return false, fmt.Errorf("login: federated flow needs a server URL")
	}

	creds, accepted, err := f.Launch(ctx, preset.ServerURL)
	if err != nil {
		return false, fmt.Errorf("login: federated exchange: %w", err)
	}

	if !accepted {
		return false, nil
	}

	a := preset
	a.Username = creds.Username
	a.Token = creds.Token
	a.IsShibboleth = true

	f.Save(ctx, a)

	if f.Logger != nil {
		f.Logger.Info("federated login accepted", "username", a.Username, "url", a.ServerURL)
	}

	return true, nil
}

// Compile-time interface check.
var _ account.LoginFlow = (*FederatedFlow)(nil)
