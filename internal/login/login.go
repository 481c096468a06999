// Package login implements the credential-entry flows: a generic
// terminal prompt, a federated (web single sign-on) variant, and a
// platform-integrated variant available on Windows only. Each flow
// blocks its caller until the user accepts or cancels and saves the
// authenticated account itself.
package login

import (
	"context"

	"github.com/seadrive/seadrive-go/internal/account"
)

// Authenticator exchanges entered credentials for a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, serverURL, username, password string) (string, error)
}

// SaveFunc persists an authenticated account; usually the account
// manager's SaveAccount.
type SaveFunc func(ctx context.Context, a account.Account) account.Account

// Credentials is the identity handed back by an external single-sign-on
// helper.
type Credentials struct {
	Username string
	Token    string
}

// LaunchFunc drives an external sign-on exchange (browser or OS helper)
// for a server. The bool reports acceptance; cancellation is not an
// error.
type LaunchFunc func(ctx context.Context, serverURL string) (Credentials, bool, error)
