package account

import (
	"context"
	"fmt"
)

// ValidateAndUse decides whether the candidate account can become the
// active session.
//
// An account with automatic login disabled whose last visit predates
// this process's startup is treated as expired: its token is cleared and
// re-authentication runs immediately. An account without a token goes
// straight to re-authentication. A valid account is promoted to current.
//
// The returned bool reports whether a usable session resulted (promotion
// succeeded or a re-login was accepted).
func (m *Manager) ValidateAndUse(ctx context.Context, a Account) (bool, error) {
	switch {
	case !a.AutomaticLogin && a.LastVisited < m.startupTime:
		return m.ClearAccountToken(ctx, a, true)
	case !a.IsValid():
		return m.ReloginAccount(ctx, a)
	default:
		return m.setCurrentAccount(ctx, a), nil
	}
}

// setCurrentAccount promotes a valid account to the front of the
// registry via SaveAccount. When the account was already current the
// save only restamps it and no additional refresh is triggered; a real
// switch also kicks off a full account-info refresh.
func (m *Manager) setCurrentAccount(ctx context.Context, a Account) bool {
	wasCurrent := m.Current().SameAccount(a)

	saved := m.SaveAccount(ctx, a)

	if wasCurrent {
		return false
	}

	m.refreshAccountInfo(ctx, saved)

	return true
}

// ReloginAccount runs the credential-scheme-appropriate login flow for
// the account, blocking until the user accepts or cancels. Dispatch is
// highest-specificity first: federated, then platform-integrated, then
// the generic credential prompt pre-filled from the account. A cancelled
// login leaves the account unauthenticated; nothing retries.
func (m *Manager) ReloginAccount(ctx context.Context, a Account) (bool, error) {
	flow := m.loginFlow(a)
	if flow == nil {
		return false, fmt.Errorf("account: no login flow configured")
	}

	accepted, err := flow.Attempt(ctx, a)
	if err != nil {
		return false, fmt.Errorf("account: login flow: %w", err)
	}

	if !accepted {
		m.logger.Info("login cancelled", "username", a.Username, "url", a.ServerURL)
	}

	return accepted, nil
}

// loginFlow selects the flow variant for the account's scheme, falling
// back to the generic credential flow when the specific variant is not
// available on this platform.
func (m *Manager) loginFlow(a Account) LoginFlow {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	if a.IsShibboleth && m.federatedLogin != nil {
		return m.federatedLogin
	}

	if a.IsKerberos && m.integratedLogin != nil {
		return m.integratedLogin
	}

	return m.credentialLogin
}

// ClearAccountToken zeroes the account's token in memory and in the
// store. When forceRelogin is set or the account is currently active,
// re-authentication runs immediately; otherwise only the change event
// fires and the re-login is deferred to the account's next use — the
// path taken when a background account's token is revoked remotely.
func (m *Manager) ClearAccountToken(ctx context.Context, a Account, forceRelogin bool) (bool, error) {
	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			m.accounts[i].Token = ""
			break
		}
	}
	m.mu.Unlock()

	if err := m.store.ClearToken(ctx, a.ServerURL, a.Username); err != nil {
		m.logger.Error("token clear not persisted", "error", err)
	}

	if forceRelogin || m.Current().SameAccount(a) {
		a.Token = ""
		return m.ReloginAccount(ctx, a)
	}

	m.emitAccountsChanged()

	return true, nil
}

// InvalidateCurrentLogin clears the current account's token without
// forcing an immediate re-login. Idempotent: an empty registry or an
// already-empty token is a no-op.
func (m *Manager) InvalidateCurrentLogin(ctx context.Context) {
	current := m.Current()
	if !current.IsValid() {
		return
	}

	if _, err := m.ClearAccountToken(ctx, current, false); err != nil {
		m.logger.Warn("invalidating current login failed", "error", err)
	}
}
