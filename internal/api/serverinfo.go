// Package api implements the HTTP exchanges for server-reported account
// metadata: the capability/brand snapshot and the per-user usage snapshot.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/seadrive/seadrive-go/internal/account"
)

// userAgent identifies this client to servers.
const userAgent = "seadrive-go/0.1"

// maxBodySize bounds metadata response bodies; these are small JSON
// documents and anything larger is a misbehaving server.
const maxBodySize = 1 << 20

// Client fetches server and account metadata over HTTP. It implements
// account.InfoFetcher.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a metadata client.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{httpClient: httpClient, logger: logger}
}

// serverInfoResponse is the wire shape of the server-info endpoint.
type serverInfoResponse struct {
	Version     string   `json:"version"`
	Features    []string `json:"features"`
	CustomBrand string   `json:"custom-brand"`
	CustomLogo  string   `json:"custom-logo"`
}

// accountInfoResponse is the wire shape of the account-info endpoint.
type accountInfoResponse struct {
	Total int64  `json:"total"`
	Usage int64  `json:"usage"`
	Name  string `json:"name"`
}

// FetchServerInfo retrieves the server's capability and branding
// snapshot for the account's server.
func (c *Client) FetchServerInfo(ctx context.Context, a account.Account) (account.ServerInfo, error) {
	var wire serverInfoResponse
	if err := c.getJSON(ctx, a, "/api2/server-info/", &wire); err != nil {
		return account.ServerInfo{}, err
	}

	info := account.ServerInfo{
		Features:    wire.Features,
		CustomBrand: wire.CustomBrand,
		CustomLogo:  wire.CustomLogo,
	}
	info.SetVersion(wire.Version)

	return info, nil
}

// FetchAccountInfo retrieves the per-user quota and display name.
func (c *Client) FetchAccountInfo(ctx context.Context, a account.Account) (account.AccountInfo, error) {
	var wire accountInfoResponse
	if err := c.getJSON(ctx, a, "/api2/account/info/", &wire); err != nil {
		return account.AccountInfo{}, err
	}

	return account.AccountInfo{
		TotalStorage: wire.Total,
		UsedStorage:  wire.Usage,
		Name:         wire.Name,
	}, nil
}

// getJSON performs an authenticated GET against the account's server and
// decodes the JSON response. No retry: refresh failures are logged by
// the caller and the next scheduled refresh tries again.
func (c *Client) getJSON(ctx context.Context, a account.Account, path string, out any) error {
	url := strings.TrimRight(a.ServerURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("api: building request %s: %w", path, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Token "+a.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return fmt.Errorf("api: %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}

	return nil
}

// Compile-time interface check.
var _ account.InfoFetcher = (*Client)(nil)
