package generation

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
	defaultTimeout = 30 * time.Second
	// maxErrorDetail caps how much of an upstream error body is kept for logging.
	maxErrorDetail = 512
	maxResponse    = 4 << 20
)

// Client calls a hosted OpenAI-compatible chat completion endpoint with a
// service credential. It performs exactly one attempt per call.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client for baseURL (e.g. https://ai.gateway.lovable.dev/v1).
// timeout bounds each Generate call; values <= 0 use 30s.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

// Generate sends a system instruction and a user message and returns the
// assistant's reply verbatim. Any failure, including the per-call timeout,
// is returned as *Error.
func (c *Client) Generate(ctx context.Context, systemInstruction, userMessage string) (string, error) {
	body, err := json.Marshal(ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userMessage},
		},
	})
	if err != nil {
		return "", &Error{Detail: "marshaling request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Detail: "creating request", Err: err}
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &Error{Detail: fmt.Sprintf("timed out after %s", c.timeout), Err: err}
		}
		return "", &Error{Detail: "executing request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		return "", &Error{Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	var out ChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&out); err != nil {
		return "", &Error{Status: resp.StatusCode, Detail: "malformed response body", Err: err}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", &Error{Status: resp.StatusCode, Detail: "response has no choices[0].message"}
	}
	content := out.Choices[0].Message.Content
	if content == nil {
		return "", &Error{Status: resp.StatusCode, Detail: "response has no choices[0].message.content"}
	}
	return *content, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
