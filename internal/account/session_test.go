package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndUseValidAccountPromotes(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	other := Account{ServerURL: "https://a.example.com", Username: "alice", Token: "t1", AutomaticLogin: true}
	target := Account{ServerURL: "https://b.example.com", Username: "bob", Token: "t2", AutomaticLogin: true}

	m.SaveAccount(ctx, target)
	m.SaveAccount(ctx, other)
	require.Equal(t, "alice", m.Current().Username)

	switched, err := m.ValidateAndUse(ctx, target)
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, "bob", m.Current().Username)
}

func TestValidateAndUseAlreadyCurrentIsNoSwitch(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	a := Account{ServerURL: "https://drive.example.com", Username: "alice", Token: "t", AutomaticLogin: true}
	m.SaveAccount(ctx, a)

	switched, err := m.ValidateAndUse(ctx, a)
	require.NoError(t, err)
	assert.False(t, switched, "re-selecting the current account is not a switch")
	assert.Equal(t, "alice", m.Current().Username)
}

func TestValidateAndUseUnauthenticatedGoesToLogin(t *testing.T) {
	flow := &fakeFlow{accept: true}
	m, _ := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(nil, nil, flow)

	a := Account{ServerURL: "https://drive.example.com", Username: "alice", AutomaticLogin: true}

	accepted, err := m.ValidateAndUse(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 1, flow.attempts())
	assert.Equal(t, "alice", flow.lastPreset().Username)
}

// TestValidateAndUseExpiredSession covers the manual-login account whose
// last visit predates process startup: its token is cleared in memory and
// in the store, and re-authentication runs immediately.
func TestValidateAndUseExpiredSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := Account{
		ServerURL:   "https://drive.example.com",
		Username:    "alice",
		Token:       "old-token",
		LastVisited: 1000,
	}
	require.NoError(t, s.UpsertAccount(ctx, stale))

	// Process "starts" well after the account's last visit.
	m := NewManager(ManagerOptions{
		Store:  s,
		Logger: testLogger(),
		Now:    func() time.Time { return time.UnixMilli(5000) },
	})
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	flow := &fakeFlow{accept: false}
	m.SetLoginFlows(nil, nil, flow)

	accepted, err := m.ValidateAndUse(ctx, m.Current())
	require.NoError(t, err)
	assert.False(t, accepted)

	require.Equal(t, 1, flow.attempts())
	assert.Empty(t, flow.lastPreset().Token, "the login prompt starts from a cleared token")

	rows, err := s.QueryAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Token, "the cleared token is persisted")
}

func TestValidateAndUseAutomaticLoginSurvivesRestart(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saved := Account{
		ServerURL:      "https://drive.example.com",
		Username:       "alice",
		Token:          "tok",
		LastVisited:    1000,
		AutomaticLogin: true,
	}
	require.NoError(t, s.UpsertAccount(ctx, saved))

	m := NewManager(ManagerOptions{
		Store:  s,
		Logger: testLogger(),
		Now:    func() time.Time { return time.UnixMilli(5000) },
	})
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	flow := &fakeFlow{accept: false}
	m.SetLoginFlows(nil, nil, flow)

	switched, err := m.ValidateAndUse(ctx, m.Current())
	require.NoError(t, err)
	assert.False(t, switched, "already current, so no switch")
	assert.Zero(t, flow.attempts(), "automatic login keeps the session without prompting")
	assert.Equal(t, "tok", m.Current().Token)
}

func TestReloginDispatchesByScheme(t *testing.T) {
	federated := &fakeFlow{accept: true}
	integrated := &fakeFlow{accept: true}
	credential := &fakeFlow{accept: true}

	m, _ := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(federated, integrated, credential)

	ctx := context.Background()

	_, err := m.ReloginAccount(ctx, Account{ServerURL: "https://a.example.com", IsShibboleth: true})
	require.NoError(t, err)

	_, err = m.ReloginAccount(ctx, Account{ServerURL: "https://b.example.com", IsKerberos: true})
	require.NoError(t, err)

	_, err = m.ReloginAccount(ctx, Account{ServerURL: "https://c.example.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, federated.attempts())
	assert.Equal(t, 1, integrated.attempts())
	assert.Equal(t, 1, credential.attempts())
}

func TestReloginFallsBackWithoutIntegratedFlow(t *testing.T) {
	credential := &fakeFlow{accept: true}

	m, _ := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(nil, nil, credential)

	_, err := m.ReloginAccount(context.Background(),
		Account{ServerURL: "https://drive.example.com", IsKerberos: true})
	require.NoError(t, err)

	assert.Equal(t, 1, credential.attempts())
}

func TestReloginWithoutAnyFlowErrors(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{})

	_, err := m.ReloginAccount(context.Background(), Account{ServerURL: "https://drive.example.com"})
	assert.Error(t, err)
}

func TestClearTokenBackgroundAccountDefersRelogin(t *testing.T) {
	flow := &fakeFlow{accept: true}
	m, s := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(nil, nil, flow)

	ctx := context.Background()
	background := Account{ServerURL: "https://a.example.com", Username: "alice", Token: "t1"}
	current := Account{ServerURL: "https://b.example.com", Username: "bob", Token: "t2"}

	m.SaveAccount(ctx, background)
	m.SaveAccount(ctx, current)

	ok, err := m.ClearAccountToken(ctx, background, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// No prompt, current session untouched, token gone everywhere.
	assert.Zero(t, flow.attempts())
	assert.Equal(t, "bob", m.Current().Username)
	assert.Empty(t, m.AccountBySignature(background.Signature()).Token)

	rows, err := s.QueryAllAccounts(ctx)
	require.NoError(t, err)

	for _, r := range rows {
		if r.Username == "alice" {
			assert.Empty(t, r.Token)
		}
	}
}

func TestInvalidateCurrentLoginPromptsForRelogin(t *testing.T) {
	flow := &fakeFlow{accept: false}
	m, _ := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(nil, nil, flow)

	ctx := context.Background()
	m.SaveAccount(ctx, Account{ServerURL: "https://drive.example.com", Username: "alice", Token: "t"})

	m.InvalidateCurrentLogin(ctx)

	assert.Empty(t, m.Current().Token)
	assert.Equal(t, 1, flow.attempts(), "invalidating the active session re-authenticates immediately")
}

func TestInvalidateCurrentLoginIdempotent(t *testing.T) {
	flow := &fakeFlow{accept: false}
	m, _ := newTestManager(t, ManagerOptions{})
	m.SetLoginFlows(nil, nil, flow)

	ctx := context.Background()

	// Empty registry.
	m.InvalidateCurrentLogin(ctx)
	assert.Zero(t, flow.attempts())

	// Already signed out.
	m.SaveAccount(ctx, Account{ServerURL: "https://drive.example.com", Username: "alice"})
	m.InvalidateCurrentLogin(ctx)
	assert.Zero(t, flow.attempts())
}
