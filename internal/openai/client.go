// Package openai is the adapter for an OpenAI-compatible completion
// endpoint. Each call is a single blocking request; there are no
// retries, and failures surface as a classified Result rather than an
// HTTP-level error whenever the endpoint produced an error payload.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultTimeout = 60 * time.Second
)

// Client communicates with an OpenAI-compatible API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client with the given API key against the default
// endpoint.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL
// (compatible proxies, or httptest servers in tests).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// CreateChat issues a chat completion request and classifies the
// response. The returned error covers transport and decoding problems
// only; an error payload from the endpoint comes back inside Result.
func (c *Client) CreateChat(ctx context.Context, req ChatRequest) (Result, error) {
	body, err := c.post(ctx, "/v1/chat/completions", req)
	if err != nil {
		return Result{}, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if resp.Error != nil {
		return Result{ErrorMessage: resp.Error.Message}, nil
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("chat response contained no choices")
	}
	return Result{Text: resp.Choices[0].Message.Content, Usage: resp.Usage}, nil
}

// CreateCompletion issues a plain completion request and classifies the
// response the same way CreateChat does.
func (c *Client) CreateCompletion(ctx context.Context, req CompletionRequest) (Result, error) {
	body, err := c.post(ctx, "/v1/completions", req)
	if err != nil {
		return Result{}, err
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("decoding completion response: %w", err)
	}
	if resp.Error != nil {
		return Result{ErrorMessage: resp.Error.Message}, nil
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("completion response contained no choices")
	}
	return Result{Text: resp.Choices[0].Text, Usage: resp.Usage}, nil
}

// post sends one request and returns the raw response body. Non-2xx
// responses are returned as-is when the body is JSON, since the
// endpoint delivers its error payloads with error status codes.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && !json.Valid(body) {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
