//go:build !windows

package login

import (
	"log/slog"

	"github.com/seadrive/seadrive-go/internal/account"
)

// NewIntegratedFlow returns nil on platforms without OS single sign-on;
// accounts flagged for integrated login fall back to the generic
// credential flow.
func NewIntegratedFlow(_ LaunchFunc, _ SaveFunc, _ *slog.Logger) account.LoginFlow {
	return nil
}
