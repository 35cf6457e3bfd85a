package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/opscribe/internal/config"
)

// errNotRunning wraps transport failures reaching the local daemon.
var errNotRunning = errors.New("server not reachable, is opscribe running?")

// serverError is a non-2xx reply from the daemon.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient talks to the daemon's loopback HTTP API with the stored bearer
// token.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func localClient(port int, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// newAPIClient is replaced in tests.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}
	return localClient(cfg.Server.Port, token, 30*time.Second), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w (%w)", errNotRunning, err)
	}
	return resp, nil
}

// call performs a request and decodes the JSON reply into out. A nil out
// discards the body.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// meetingPath builds /meetings/{id}/parts... with each segment escaped.
func meetingPath(meetingID string, parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	segs = append(segs, "", "meetings", url.PathEscape(meetingID))
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

// decodeJSON closes resp. Error replies become *serverError, using the
// {"error":{"message","type"}} envelope when present and the raw body
// otherwise.
func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		se := &serverError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			se.Message, se.Type = env.Error.Message, env.Error.Type
		}
		return se
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
