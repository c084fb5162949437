// Package threads is a client for the thread storage endpoints: list, get and
// delete persisted conversations.
package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brewchat/internal/agent"
	"brewchat/internal/agui"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 16 << 10
)

var (
	// ErrBaseURLRequired indicates a client without a thread service URL.
	ErrBaseURLRequired = errors.New("thread service url is required")
	// ErrThreadIDRequired indicates a call without a thread id.
	ErrThreadIDRequired = errors.New("thread id is required")
	// ErrThreadNotFound indicates the thread service has no such thread.
	ErrThreadNotFound = errors.New("thread not found")
)

// Summary is one entry of the thread listing.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	UpdatedAt    string `json:"updated_at"`
}

// Thread is a persisted conversation.
type Thread struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title,omitempty"`
	Messages []agui.Message `json:"messages"`
}

// Conversation returns the user and assistant messages, the subset a chat
// session can resume from.
func (t Thread) Conversation() []agui.Message {
	out := make([]agui.Message, 0, len(t.Messages))
	for _, msg := range t.Messages {
		if msg.Role == agui.RoleUser || msg.Role == agui.RoleAssistant {
			out = append(out, msg.Clone())
		}
	}
	return out
}

type (
	// Option configures the client.
	Option func(*Client)

	// Client talks to the thread service.
	Client struct {
		baseURL string
		http    *http.Client
		headers agent.HeaderResolver
	}
)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeaders resolves request headers per call, as the agent runner does.
func WithHeaders(h agent.HeaderResolver) Option {
	return func(cl *Client) {
		cl.headers = h
	}
}

// New creates a client rooted at baseURL; threads live under baseURL/threads.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	cl := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: defaultTimeout}
	}
	return cl, nil
}

// List returns the stored threads.
func (c *Client) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	if err := c.do(ctx, http.MethodGet, "/threads", &out); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return out, nil
}

// Get fetches one thread.
func (c *Client) Get(ctx context.Context, id string) (Thread, error) {
	path, err := threadPath(id)
	if err != nil {
		return Thread{}, err
	}
	var out Thread
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return Thread{}, fmt.Errorf("get thread %s: %w", id, err)
	}
	if out.ID == "" {
		out.ID = strings.TrimSpace(id)
	}
	return out, nil
}

// Delete removes one thread.
func (c *Client) Delete(ctx context.Context, id string) error {
	path, err := threadPath(id)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	return nil
}

func threadPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrThreadIDRequired
	}
	return "/threads/" + url.PathEscape(id), nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		headers, err := c.headers.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("resolve request headers: %w", err)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		statusErr := &agent.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrThreadNotFound, statusErr)
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
