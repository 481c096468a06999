package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// authTokenResponse is the wire shape of the token endpoint.
type authTokenResponse struct {
	Token string `json:"token"`
}

// Authenticate exchanges a username and password for a bearer token.
func (c *Client) Authenticate(ctx context.Context, serverURL, username, password string) (string, error) {
	endpoint := strings.TrimRight(serverURL, "/") + "/api2/auth-token/"

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("api: building auth request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api: auth token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return "", fmt.Errorf("api: auth token: unexpected status %d", resp.StatusCode)
	}

	var wire authTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&wire); err != nil {
		return "", fmt.Errorf("api: decoding auth response: %w", err)
	}

	if wire.Token == "" {
		return "", fmt.Errorf("api: auth token: empty token in response")
	}

	return wire.Token, nil
}
