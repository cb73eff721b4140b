// Package llm is a minimal client for the Anthropic Messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Failure sentinels. Callers map them to user-facing messages.
var (
	ErrTimeout     = errors.New("language model timed out")
	ErrUnavailable = errors.New("language model unavailable")
)

const (
	// DefaultEndpoint is the Anthropic API base URL.
	DefaultEndpoint = "https://api.anthropic.com"
	// DefaultModel is used when the configuration names none.
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultAnthropicVersion is the API version header value.
	DefaultAnthropicVersion = "2023-06-01"

	defaultMaxTokens  = 2048
	defaultTimeout    = 60 * time.Second
	defaultRetryDelay = 500 * time.Millisecond

	messagesPath   = "/v1/messages"
	maxErrorBody   = 8 << 10
	statusOverload = 529
)

// Role is a conversation participant.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Response is a completion.
type Response struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	RequestID    string
}

// Completer produces completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config configures a Client.
type Config struct {
	Endpoint         string
	APIKey           string
	Model            string
	MaxTokens        int
	Timeout          time.Duration
	AnthropicVersion string
	// RetryDelay is the pause before the single transient-failure retry.
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error: status=%d", e.StatusCode)
	if e.Type != "" {
		fmt.Fprintf(&b, " type=%s", e.Type)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " message=%s", e.Message)
	}
	return b.String()
}

// Transient reports whether the status is worth one retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == statusOverload ||
		e.StatusCode >= http.StatusInternalServerError
}

// Is matches ErrUnavailable for transient statuses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && e.Transient()
}

// Client calls the Messages API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	timeout    time.Duration
	version    string
	retryDelay time.Duration
}

var _ Completer = (*Client)(nil)

// New creates a client. Zero config fields take defaults.
func New(cfg Config) *Client {
	c := &Client{
		httpClient: cfg.HTTPClient,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		timeout:    cfg.Timeout,
		version:    cfg.AnthropicVersion,
		retryDelay: cfg.RetryDelay,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.version == "" {
		c.version = DefaultAnthropicVersion
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one completion request bounded by the configured timeout.
// A transient transport failure or overload status is retried once; a
// timeout is never retried.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", ErrUnavailable)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	payload, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.send(callCtx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctxErr := c.contextError(ctx, callCtx); ctxErr != nil {
			return nil, ctxErr
		}
		if attempt == maxAttempts || !isTransient(err) {
			break
		}
		slog.Warn("retrying language model request", "error", err, "delay", c.retryDelay)
		select {
		case <-time.After(c.retryDelay):
		case <-callCtx.Done():
			if ctxErr := c.contextError(ctx, callCtx); ctxErr != nil {
				return nil, ctxErr
			}
		}
	}
	return nil, c.finalError(lastErr)
}

// contextError distinguishes caller cancellation from the call deadline.
func (*Client) contextError(parent, call context.Context) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return nil
}

func (*Client) finalError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (c *Client) send(ctx context.Context, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", c.version)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	requestID := resp.Header.Get("Request-Id")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			apiErr.Type = er.Error.Type
			apiErr.Message = er.Error.Message
		}
		return nil, apiErr
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text:         text.String(),
		Model:        out.Model,
		StopReason:   out.StopReason,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		RequestID:    requestID,
	}, nil
}

// isTransient reports failures that one retry may fix: refused or reset
// connections, truncated responses and overload statuses. Timeouts are
// excluded.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
