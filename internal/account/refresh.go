package account

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// refreshResult is one completed server-info exchange, delivered to the
// merge goroutine. Exactly one of info/err is meaningful.
type refreshResult struct {
	requestID string
	account   Account
	info      ServerInfo
	err       error
}

// RefreshServerInfo issues one asynchronous server-info request for the
// account. Completion is merged by the single merge goroutine, so merges
// for the same key never race each other or other registry mutations.
// Concurrent refreshes for the same account are coalesced. Fire and
// forget: failures are logged, nothing retries here.
func (m *Manager) RefreshServerInfo(ctx context.Context, a Account) {
	if m.fetcher == nil {
		return
	}

	sig := a.Signature()

	go func() {
		// Result and error travel through the channel, not the group.
		_, _, _ = m.refreshGroup.Do(sig, func() (any, error) {
			id := uuid.New().String()
			m.logger.Debug("refreshing server info",
				"request_id", id, "username", a.Username, "url", a.ServerURL)

			info, err := m.fetcher.FetchServerInfo(ctx, a)

			select {
			case m.refreshCh <- refreshResult{requestID: id, account: a, info: info, err: err}:
			case <-m.done:
			}

			return nil, nil
		})
	}()
}

// mergeLoop serializes all refresh merges. Runs until Close.
func (m *Manager) mergeLoop() {
	defer m.mergeWG.Done()

	for {
		select {
		case r := <-m.refreshCh:
			m.mergeServerInfo(r)
		case <-m.done:
			return
		}
	}
}

// mergeServerInfo folds one successful refresh into the store and the
// registry. A result for an account removed while the request was in
// flight is discarded — merging it would resurrect the deleted row.
// The accounts-changed event fires only when the snapshot actually
// differs and the refreshed account is current; background accounts
// never churn the UI.
func (m *Manager) mergeServerInfo(r refreshResult) {
	if r.err != nil {
		m.logger.Warn("server info refresh failed",
			"request_id", r.requestID, "username", r.account.Username,
			"url", r.account.ServerURL, "error", r.err)
		return
	}

	if !m.Exists(r.account.ServerURL, r.account.Username) {
		m.logger.Info("discarding refresh for removed account",
			"request_id", r.requestID, "username", r.account.Username)
		return
	}

	ctx := context.Background()
	a := r.account

	// Four independent upserts, each idempotent on retry. A crash mid-
	// sequence leaves a partial merge that the next refresh heals.
	props := []struct{ key, value string }{
		{propVersion, r.info.VersionString()},
		{propFeatures, r.info.FeatureString()},
		{propCustomLogo, r.info.CustomLogo},
		{propCustomBrand, r.info.CustomBrand},
	}
	for _, p := range props {
		if err := m.store.SetProperty(ctx, a.ServerURL, a.Username, p.key, p.value); err != nil {
			m.logger.Error("server info not persisted", "key", p.key, "error", err)
		}
	}

	if m.daemon != nil {
		if err := m.daemon.SwitchAccount(ctx, a, r.info.ProEdition()); err != nil {
			m.logger.Warn("daemon switch notification failed", "error", err)
		}
	}

	var (
		changed   bool
		isCurrent bool
	)

	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			changed = !m.accounts[i].ServerInfo.Equal(r.info)
			if changed {
				m.accounts[i].ServerInfo = r.info
			}
			isCurrent = i == 0
			break
		}
	}
	m.mu.Unlock()

	if changed && isCurrent {
		m.emitAccountsChanged()
	}
}

// refreshAccountInfo fetches the per-user usage snapshot in the
// background and merges it via UpdateAccountInfo. Triggered on a real
// account switch.
func (m *Manager) refreshAccountInfo(ctx context.Context, a Account) {
	if m.fetcher == nil {
		return
	}

	go func() {
		info, err := m.fetcher.FetchAccountInfo(ctx, a)
		if err != nil {
			m.logger.Warn("account info refresh failed",
				"username", a.Username, "url", a.ServerURL, "error", err)
			return
		}

		m.UpdateAccountInfo(ctx, a, info)
	}()
}

// UpdateAccountInfo merges a usage snapshot (quota, display name) for an
// account: three property upserts plus the in-memory update and the
// account-info-updated event. Independent of the server-info pipeline
// and safe to run concurrently with it — the two touch disjoint key
// namespaces.
func (m *Manager) UpdateAccountInfo(ctx context.Context, a Account, info AccountInfo) {
	props := []struct{ key, value string }{
		{propTotalStorage, formatInt64(info.TotalStorage)},
		{propUsedStorage, formatInt64(info.UsedStorage)},
		{propNickname, info.Name},
	}
	for _, p := range props {
		if err := m.store.SetProperty(ctx, a.ServerURL, a.Username, p.key, p.value); err != nil {
			m.logger.Error("account info not persisted", "key", p.key, "error", err)
		}
	}

	var updated *Account

	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			m.accounts[i].AccountInfo = info
			cp := m.accounts[i]
			updated = &cp
			break
		}
	}
	m.mu.Unlock()

	if updated != nil {
		m.emitAccountInfoUpdated(*updated)
	}
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}
