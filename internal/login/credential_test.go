package login

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seadrive/seadrive-go/internal/account"
)

// stubPassword replaces the terminal password read for one test.
func stubPassword(t *testing.T, password string, err error) {
	t.Helper()

	orig := readPassword
	readPassword = func() ([]byte, error) {
		if err != nil {
			return nil, err
		}

		return []byte(password), nil
	}

	t.Cleanup(func() { readPassword = orig })
}

// fakeAuth hands out a fixed token and records what it was asked.
type fakeAuth struct {
	token string
	err   error

	serverURL, username, password string
}

func (a *fakeAuth) Authenticate(_ context.Context, serverURL, username, password string) (string, error) {
	a.serverURL = serverURL
	a.username = username
	a.password = password

	return a.token, a.err
}

// recordingSave captures accounts handed to Save.
type recordingSave struct {
	mu    sync.Mutex
	saved []account.Account
}

func (r *recordingSave) save(_ context.Context, a account.Account) account.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = append(r.saved, a)

	return a
}

func newCredentialFlow(input string, auth *fakeAuth, rec *recordingSave) *CredentialFlow {
	return &CredentialFlow{
		In:   bufio.NewReader(strings.NewReader(input)),
		Out:  &bytes.Buffer{},
		Auth: auth,
		Save: rec.save,
	}
}

func TestCredentialFlowNewAccount(t *testing.T) {
	stubPassword(t, "hunter2", nil)

	auth := &fakeAuth{token: "tok-123"}
	rec := &recordingSave{}
	f := newCredentialFlow("https://drive.example.com/\nalice@example.com\n", auth, rec)

	accepted, err := f.Attempt(context.Background(), account.Account{})
	require.NoError(t, err)
	assert.True(t, accepted)

	assert.Equal(t, "https://drive.example.com/", auth.serverURL)
	assert.Equal(t, "hunter2", auth.password)

	require.Len(t, rec.saved, 1)
	saved := rec.saved[0]
	assert.Equal(t, "https://drive.example.com", saved.ServerURL, "trailing slash is trimmed before saving")
	assert.Equal(t, "alice@example.com", saved.Username)
	assert.Equal(t, "tok-123", saved.Token)
	assert.True(t, saved.AutomaticLogin, "a brand-new account starts with automatic login on")
}

func TestCredentialFlowKeepsPresetOnEmptyAnswers(t *testing.T) {
	stubPassword(t, "hunter2", nil)

	auth := &fakeAuth{token: "tok-456"}
	rec := &recordingSave{}
	// Two empty lines accept both defaults.
	f := newCredentialFlow("\n\n", auth, rec)

	preset := account.Account{
		ServerURL: "https://drive.example.com",
		Username:  "alice@example.com",
	}

	accepted, err := f.Attempt(context.Background(), preset)
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Len(t, rec.saved, 1)
	assert.Equal(t, "alice@example.com", rec.saved[0].Username)
	assert.False(t, rec.saved[0].AutomaticLogin, "a re-login keeps the preset's automatic-login setting")
}

func TestCredentialFlowCancelledOnEmptyServer(t *testing.T) {
	auth := &fakeAuth{token: "unused"}
	rec := &recordingSave{}
	f := newCredentialFlow("\n", auth, rec)

	accepted, err := f.Attempt(context.Background(), account.Account{})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Empty(t, rec.saved)
}

func TestCredentialFlowCancelledOnEmptyPassword(t *testing.T) {
	stubPassword(t, "", nil)

	auth := &fakeAuth{token: "unused"}
	rec := &recordingSave{}
	f := newCredentialFlow("https://drive.example.com\nalice\n", auth, rec)

	accepted, err := f.Attempt(context.Background(), account.Account{})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Empty(t, rec.saved)
}

func TestCredentialFlowCancelledOnPasswordEOF(t *testing.T) {
	stubPassword(t, "", io.EOF)

	auth := &fakeAuth{token: "unused"}
	rec := &recordingSave{}
	f := newCredentialFlow("https://drive.example.com\nalice\n", auth, rec)

	accepted, err := f.Attempt(context.Background(), account.Account{})
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestCredentialFlowAuthFailure(t *testing.T) {
	stubPassword(t, "wrong", nil)

	auth := &fakeAuth{err: fmt.Errorf("status 400")}
	rec := &recordingSave{}
	f := newCredentialFlow("https://drive.example.com\nalice\n", auth, rec)

	accepted, err := f.Attempt(context.Background(), account.Account{})
	require.Error(t, err)
	assert.False(t, accepted)
	assert.Empty(t, rec.saved)
}

func TestFederatedFlowSetsSchemeFlag(t *testing.T) {
	rec := &recordingSave{}
	f := &FederatedFlow{
		Launch: func(_ context.Context, serverURL string) (Credentials, bool, error) {
			assert.Equal(t, "https://drive.example.com", serverURL)
			return Credentials{Username: "alice@idp.example.com", Token: "sso-tok"}, true, nil
		},
		Save: rec.save,
	}

	accepted, err := f.Attempt(context.Background(),
		account.Account{ServerURL: "https://drive.example.com"})
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Len(t, rec.saved, 1)
	assert.True(t, rec.saved[0].IsShibboleth)
	assert.Equal(t, "sso-tok", rec.saved[0].Token)
}

func TestFederatedFlowCancelled(t *testing.T) {
	rec := &recordingSave{}
	f := &FederatedFlow{
		Launch: func(_ context.Context, _ string) (Credentials, bool, error) {
			return Credentials{}, false, nil
		},
		Save: rec.save,
	}

	accepted, err := f.Attempt(context.Background(),
		account.Account{ServerURL: "https://drive.example.com"})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Empty(t, rec.saved)
}

func TestFederatedFlowNeedsServerURL(t *testing.T) {
	f := &FederatedFlow{Save: (&recordingSave{}).save}

	_, err := f.Attempt(context.Background(), account.Account{})
	assert.Error(t, err)
}
