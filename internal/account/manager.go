package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DaemonNotifier is the sync-daemon RPC boundary. Notifications are
// fire-and-forget: failures are logged here and never surfaced further.
type DaemonNotifier interface {
	SwitchAccount(ctx context.Context, a Account, proEdition bool) error
	SetConfig(ctx context.Context, key, value string) error
}

// InfoFetcher performs the asynchronous metadata exchanges with the
// server. The wire protocol is the fetcher's business; the manager only
// sees the decoded snapshots.
type InfoFetcher interface {
	FetchServerInfo(ctx context.Context, a Account) (ServerInfo, error)
	FetchAccountInfo(ctx context.Context, a Account) (AccountInfo, error)
}

// LoginFlow is one credential-entry variant (generic, federated, or
// platform-integrated). Attempt blocks the calling goroutine until the
// user accepts or cancels; a successful attempt is expected to save the
// authenticated account itself.
type LoginFlow interface {
	Attempt(ctx context.Context, preset Account) (accepted bool, err error)
}

// clientNameKey is the daemon config key announcing this machine's name.
const clientNameKey = "client_name"

// refreshBuffer sizes the synchronizer's result channel; completions
// block only if the merge goroutine falls far behind.
const refreshBuffer = 16

// ManagerOptions carries the collaborators a Manager needs. Store,
// Logger, and Fetcher are required; the rest may be nil (notifications
// and logins then degrade to no-ops or the generic flow).
type ManagerOptions struct {
	Store   *Store
	Logger  *slog.Logger
	Daemon  DaemonNotifier
	Fetcher InfoFetcher

	// ComputerName is announced to the daemon after every save.
	ComputerName string

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// Manager owns the in-memory account registry — the single source of
// truth while the process runs — and mirrors every mutation through the
// Store. There is exactly one Manager per process, constructed explicitly
// and passed to collaborators.
type Manager struct {
	store  *Store
	logger *slog.Logger
	daemon DaemonNotifier

	computerName string
	now          func() time.Time

	// startupTime gates automatic re-use of sessions last visited before
	// this process started (milliseconds, same scale as LastVisited).
	startupTime int64

	mu       sync.Mutex
	accounts []Account

	// Secondary cache of account-derived values (feature flags and the
	// like). Cleared wholesale on every accounts-changed event; entries
	// are never individually invalidated.
	cacheMu sync.Mutex
	cache   map[string]string

	subMu       sync.Mutex
	changedSubs []func()
	infoSubs    []func(Account)

	// Login flows, late-bound because the flows themselves save through
	// the manager.
	flowMu          sync.Mutex
	federatedLogin  LoginFlow
	integratedLogin LoginFlow
	credentialLogin LoginFlow

	// Synchronizer state (refresh.go).
	fetcher      InfoFetcher
	refreshGroup singleflight.Group
	refreshCh    chan refreshResult
	done         chan struct{}
	mergeWG      sync.WaitGroup
}

// NewManager builds a Manager. Call Start to load the registry and begin
// merging refresh results, and Close on shutdown.
func NewManager(opts ManagerOptions) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:        opts.Store,
		logger:       logger,
		daemon:       opts.Daemon,
		fetcher:      opts.Fetcher,
		computerName: opts.ComputerName,
		now:          now,
		startupTime:  now().UnixMilli(),
		cache:        make(map[string]string),
		refreshCh:    make(chan refreshResult, refreshBuffer),
		done:         make(chan struct{}),
	}
}

// SetLoginFlows installs the credential-scheme variants. The integrated
// flow is nil on platforms without OS single sign-on.
func (m *Manager) SetLoginFlows(federated, integrated, credential LoginFlow) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	m.federatedLogin = federated
	m.integratedLogin = integrated
	m.credentialLogin = credential
}

// Start loads the registry from the store and starts the merge goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		return err
	}

	m.mergeWG.Add(1)
	go m.mergeLoop()

	return nil
}

// Close stops the merge goroutine. The store is closed by its owner.
func (m *Manager) Close() {
	close(m.done)
	m.mergeWG.Wait()
}

// Load replaces the in-memory registry with the store's contents, sorted
// into registry order. The read path is store-to-registry at startup
// only; afterwards the registry leads and the store follows.
func (m *Manager) Load(ctx context.Context) error {
	accounts, err := m.store.QueryAllAccounts(ctx)
	if err != nil {
		return err
	}

	sortAccounts(accounts)

	m.mu.Lock()
	m.accounts = accounts
	m.mu.Unlock()

	m.logger.Info("loaded accounts", "count", len(accounts))

	return nil
}

// SaveAccount upserts the account, stamps its last-visited time, and
// moves it to the front of the registry, making it the current account.
// The registry mutation happens first and under the lock; the store
// write-through, daemon notification, change event, and server-info
// refresh follow outside it. A failed store write is logged and does not
// roll back the in-memory mutation: the running session trusts memory,
// and the next fresh load may lose the unpersisted change.
func (m *Manager) SaveAccount(ctx context.Context, a Account) Account {
	a.LastVisited = m.now().UnixMilli()

	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			break
		}
	}
	m.accounts = append([]Account{a}, m.accounts...)
	m.mu.Unlock()

	if err := m.store.UpsertAccount(ctx, a); err != nil {
		m.logger.Error("account save not persisted", "error", err)
	}

	if m.daemon != nil {
		if err := m.daemon.SetConfig(ctx, clientNameKey, m.computerName); err != nil {
			m.logger.Warn("daemon config notification failed", "error", err)
		}
	}

	m.emitAccountsChanged()

	// Refresh after the identity write-through so a refresh response for
	// this key can never race an in-flight row write.
	m.RefreshServerInfo(ctx, a)

	return a
}

// RemoveAccount erases the account from the registry and the store. When
// the removed account was current, a successor is promoted: the new
// front-of-list account goes through session validation, or, with no
// accounts left, a fresh interactive login runs exactly once.
func (m *Manager) RemoveAccount(ctx context.Context, a Account) error {
	wasCurrent := m.Current().SameAccount(a)

	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			break
		}
	}
	var (
		successor    Account
		hasSuccessor bool
	)
	if len(m.accounts) > 0 {
		successor, hasSuccessor = m.accounts[0], true
	}
	m.mu.Unlock()

	if err := m.store.DeleteAccount(ctx, a.ServerURL, a.Username); err != nil {
		m.logger.Error("account removal not persisted", "error", err)
	}

	if wasCurrent {
		if hasSuccessor {
			if _, err := m.ValidateAndUse(ctx, successor); err != nil {
				m.logger.Warn("successor validation failed", "error", err)
			}
		} else if flow := m.loginFlow(Account{}); flow != nil {
			if _, err := flow.Attempt(ctx, Account{}); err != nil {
				m.logger.Warn("interactive login failed", "error", err)
			}
		}
	}

	m.emitAccountsChanged()

	return nil
}

// UpdateLastVisited stamps the account's last-visited time in memory and
// in the store without reordering the registry.
func (m *Manager) UpdateLastVisited(ctx context.Context, a Account) {
	ts := m.now().UnixMilli()

	m.mu.Lock()
	for i := range m.accounts {
		if m.accounts[i].SameAccount(a) {
			m.accounts[i].LastVisited = ts
			break
		}
	}
	m.mu.Unlock()

	if err := m.store.UpdateLastVisited(ctx, a.ServerURL, a.Username, ts); err != nil {
		m.logger.Error("lastVisited update not persisted", "error", err)
	}
}

// Exists reports whether an account with the composite key is known.
func (m *Manager) Exists(serverURL, username string) bool {
	key := Account{ServerURL: serverURL, Username: username}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.accounts {
		if m.accounts[i].SameAccount(key) {
			return true
		}
	}

	return false
}

// AccountByHostAndUsername finds an account by server host (not full
// URL) and username. Returns the zero Account on miss: callers check
// IsValid, not presence.
func (m *Manager) AccountByHostAndUsername(host, username string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.accounts {
		if m.accounts[i].Host() == host &&
			normalizeUsername(m.accounts[i].Username) == normalizeUsername(username) {
			return m.accounts[i]
		}
	}

	return Account{}
}

// AccountBySignature finds an account by its derived signature. Returns
// the zero Account on miss.
func (m *Manager) AccountBySignature(sig string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.accounts {
		if m.accounts[i].Signature() == sig {
			return m.accounts[i]
		}
	}

	return Account{}
}

// Accounts returns a snapshot of the registry in order.
func (m *Manager) Accounts() []Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Account, len(m.accounts))
	copy(out, m.accounts)

	return out
}

// Current returns the front-of-list account — the active session — or
// the zero Account if the registry is empty.
func (m *Manager) Current() Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.accounts) == 0 {
		return Account{}
	}

	return m.accounts[0]
}

// HasAccounts reports whether any account is known.
func (m *Manager) HasAccounts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.accounts) > 0
}

// --- Change events ---

// OnAccountsChanged registers a callback for the top-level change event.
// Callbacks run on whichever goroutine performed the mutation.
func (m *Manager) OnAccountsChanged(fn func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.changedSubs = append(m.changedSubs, fn)
}

// OnAccountInfoUpdated registers a callback for per-account usage
// updates (quota, display name).
func (m *Manager) OnAccountInfoUpdated(fn func(Account)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.infoSubs = append(m.infoSubs, fn)
}

// emitAccountsChanged invalidates the secondary cache, then notifies
// subscribers. The registry mutation that caused the event is already
// visible by the time any subscriber runs.
func (m *Manager) emitAccountsChanged() {
	m.cacheMu.Lock()
	clear(m.cache)
	m.cacheMu.Unlock()

	m.subMu.Lock()
	subs := make([]func(), len(m.changedSubs))
	copy(subs, m.changedSubs)
	m.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (m *Manager) emitAccountInfoUpdated(a Account) {
	m.subMu.Lock()
	subs := make([]func(Account), len(m.infoSubs))
	copy(subs, m.infoSubs)
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(a)
	}
}

// --- Secondary cache ---

// CachedValue looks up an account-derived cache entry. Readers racing a
// clear may see a miss, never a torn value.
func (m *Manager) CachedValue(key string) (string, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	v, ok := m.cache[key]

	return v, ok
}

// SetCachedValue stores an account-derived cache entry. The entry lives
// until the next accounts-changed event.
func (m *Manager) SetCachedValue(key, value string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache[key] = value
}
