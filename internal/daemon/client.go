// Package daemon implements the RPC client for the background sync
// daemon. Account switches and configuration changes are fire-and-forget
// notifications; cached-file queries are request/response calls.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/seadrive/seadrive-go/internal/account"
)

// RPC method names understood by the daemon.
const (
	methodSwitchAccount   = "switch-account"
	methodSetConfig       = "set-config"
	methodIsFileCached    = "is-file-cached"
	methodGetRepoIDByPath = "get-repo-id-by-path"
)

// message is one frame in either direction. Requests carry Method and
// Params; responses echo the ID with Result or Error set.
type message struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client talks to the local sync daemon over a websocket. Calls are
// serialized on one connection; the daemon answers in order. A transport
// error drops the connection and the next call redials.
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a daemon client for the given websocket URL
// (e.g. "ws://127.0.0.1:9527/rpc"). No connection is made until the
// first call.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{url: url, logger: logger}
}

// connectLocked dials the daemon if no connection is cached. Caller
// holds c.mu.
func (c *Client) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("daemon: dial %s: %w", c.url, err)
	}

	c.logger.Debug("connected to daemon", "url", c.url)
	c.conn = conn

	return conn, nil
}

// dropLocked discards the cached connection after a transport error.
// Caller holds c.mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "transport error")
		c.conn = nil
	}
}

// notify sends a fire-and-forget frame. The daemon does not reply.
func (c *Client) notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("daemon: encoding %s params: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}

	msg := message{ID: uuid.New().String(), Method: method, Params: raw}
	if err := wsjson.Write(ctx, conn, &msg); err != nil {
		c.dropLocked()
		return fmt.Errorf("daemon: sending %s: %w", method, err)
	}

	return nil
}

// call sends a request frame and decodes the matching response into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("daemon: encoding %s params: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}

	req := message{ID: uuid.New().String(), Method: method, Params: raw}
	if err := wsjson.Write(ctx, conn, &req); err != nil {
		c.dropLocked()
		return fmt.Errorf("daemon: sending %s: %w", method, err)
	}

	var resp message
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		c.dropLocked()
		return fmt.Errorf("daemon: reading %s response: %w", method, err)
	}

	if resp.ID != req.ID {
		c.dropLocked()
		return fmt.Errorf("daemon: response id %q does not match request %q", resp.ID, req.ID)
	}

	if resp.Error != "" {
		return fmt.Errorf("daemon: %s: %s", method, resp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("daemon: decoding %s result: %w", method, err)
		}
	}

	return nil
}

// switchAccountParams announces the active session to the daemon.
type switchAccountParams struct {
	Server     string `json:"server"`
	Username   string `json:"username"`
	Token      string `json:"token"`
	ProEdition bool   `json:"pro_edition"`
}

// SwitchAccount tells the daemon which account is now active and whether
// the server is a pro edition.
func (c *Client) SwitchAccount(ctx context.Context, a account.Account, proEdition bool) error {
	return c.notify(ctx, methodSwitchAccount, switchAccountParams{
		Server:     a.ServerURL,
		Username:   a.Username,
		Token:      a.Token,
		ProEdition: proEdition,
	})
}

type setConfigParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetConfig pushes one configuration key to the daemon.
func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	return c.notify(ctx, methodSetConfig, setConfigParams{Key: key, Value: value})
}

type isFileCachedParams struct {
	RepoID     string `json:"repo_id"`
	PathInRepo string `json:"path_in_repo"`
}

// IsFileCached asks the daemon whether a repo path is fully materialized
// locally.
func (c *Client) IsFileCached(ctx context.Context, repoID, pathInRepo string) (bool, error) {
	var cached bool
	if err := c.call(ctx, methodIsFileCached,
		isFileCachedParams{RepoID: repoID, PathInRepo: pathInRepo}, &cached); err != nil {
		return false, err
	}

	return cached, nil
}

type repoIDByPathParams struct {
	RepoPath string `json:"repo_path"`
}

// GetRepoIDByPath resolves a "category/repo" display path to the repo
// identifier.
func (c *Client) GetRepoIDByPath(ctx context.Context, repoPath string) (string, error) {
	var repoID string
	if err := c.call(ctx, methodGetRepoIDByPath,
		repoIDByPathParams{RepoPath: repoPath}, &repoID); err != nil {
		return "", err
	}

	return repoID, nil
}

// Close shuts the connection down cleanly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil

	if err != nil {
		return fmt.Errorf("daemon: close: %w", err)
	}

	return nil
}

// Compile-time interface check.
var _ account.DaemonNotifier = (*Client)(nil)
