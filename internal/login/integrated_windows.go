//go:build windows

package login

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seadrive/seadrive-go/internal/account"
)

// integratedFlow is the OS single-sign-on variant, backed by the
// machine's domain logon. Windows only.
type integratedFlow struct {
	launch LaunchFunc
	save   SaveFunc
	logger *slog.Logger
}

// NewIntegratedFlow returns the platform-integrated login flow. The
// launch function performs the domain-credential exchange; without one
// the flow is unavailable and callers fall back to the credential flow.
func NewIntegratedFlow(launch LaunchFunc, save SaveFunc, logger *slog.Logger) account.LoginFlow {
	if launch == nil {
		return nil
	}

	return &integratedFlow{launch: launch, save: save, logger: logger}
}

func (f *integratedFlow) Attempt(ctx context.Context, preset account.Account) (bool, error) {
	if preset.ServerURL == "" {
		return false, fmt.Errorf("login: integrated flow needs a server URL")
	}

	creds, accepted, err := f.launch(ctx, preset.ServerURL)
	if err != nil {
		return false, fmt.Errorf("login: integrated exchange: %w", err)
	}

	if !accepted {
		return false, nil
	}

	a := preset
	a.Username = creds.Username
	a.Token = creds.Token
	a.IsKerberos = true

	f.save(ctx, a)

	if f.logger != nil {
		f.logger.Info("integrated login accepted", "username", a.Username, "url", a.ServerURL)
	}

	return true, nil
}
