package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxRetryAfter  = 10 * time.Second
)

var (
	// ErrEmptyCompletion is returned when a completion carries no choices.
	ErrEmptyCompletion = errors.New("completion has no choices")

	// ErrUnauthorized is matched by a StatusError for a rejected API key.
	ErrUnauthorized = errors.New("openrouter rejected the API key")
)

// Client communicates with the OpenRouter API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
	backoff    time.Duration
}

// NewClient creates an OpenRouter client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/opscribe",
		title:   "opscribe",
		backoff: initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// StatusError is a non-200 reply. Message is taken from OpenRouter's
// {"error":{"message":...}} envelope when present, else the raw body.
type StatusError struct {
	StatusCode int
	Message    string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// retryable reports whether the upstream may succeed on a later attempt.
func (e *StatusError) retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func newStatusError(resp *http.Response) *StatusError {
	e := &StatusError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.retryAfter = min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	return e
}

// Chat sends a chat completion request and returns the complete JSON
// response body. The caller closes it. Rate limits and transient gateway
// failures are retried with exponential backoff, or after Retry-After when
// the server sends one.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	backoff := c.backoff
	var lastErr *StatusError
	for attempt := range maxRetries {
		rc, err := c.doChat(ctx, body)
		if err == nil {
			return rc, nil
		}
		var se *StatusError
		if !errors.As(err, &se) || !se.retryable() {
			return nil, err
		}
		lastErr = se
		if attempt == maxRetries-1 {
			break
		}

		wait := backoff
		if se.retryAfter > 0 {
			wait = se.retryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}

	if lastErr.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
	}
	return nil, fmt.Errorf("upstream unavailable after %d retries: %w", maxRetries, lastErr)
}

// JSONSchemaFormat builds a non-strict response_format asking for output that
// matches schema. Optional fields stay optional.
func JSONSchemaFormat(name string, schema any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   name,
			"schema": schema,
		},
	})
}

// Complete sends a non-streaming chat completion and returns the content of
// the first choice. When responseFormat is non-nil it is passed through as the
// request's response_format.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, responseFormat json.RawMessage) (string, error) {
	msgs, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshaling messages: %w", err)
	}
	req := ChatRequest{Model: model, Messages: msgs}
	if responseFormat != nil {
		req.Extra = map[string]json.RawMessage{"response_format": responseFormat}
	}

	rc, err := c.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var completion ChatCompletion
	if err := json.NewDecoder(rc).Decode(&completion); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *Client) doChat(ctx context.Context, body []byte) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}

	// The timeout context lives until the caller closes the body.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ListModels returns the list of available models from OpenRouter.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
