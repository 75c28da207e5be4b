package clienthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
}

// BaseURL normalizes a server address: a missing scheme means http, and any
// trailing slash is dropped.
func BaseURL(serverURL string) string {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	return serverURL
}

// SocketURL builds the signaling WebSocket URL for a registered id.
func SocketURL(serverURL, key, id, token string) (string, error) {
	u, err := url.Parse(BaseURL(serverURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("key", key)
	q.Set("id", id)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchID asks the server to allocate a fresh peer id (GET /{key}/id).
func FetchID(ctx context.Context, serverURL, key string) (string, error) {
	body, err := get(ctx, BaseURL(serverURL)+"/"+url.PathEscape(key)+"/id")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", fmt.Errorf("server returned an empty id")
	}
	return id, nil
}

// ListPeers returns the ids connected under key (GET /{key}/peers).
// Servers refuse this unless discovery is enabled.
func ListPeers(ctx context.Context, serverURL, key string) ([]string, error) {
	body, err := get(ctx, BaseURL(serverURL)+"/"+url.PathEscape(key)+"/peers")
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return ids, nil
}

func get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
