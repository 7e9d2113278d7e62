// Package planner is a thin client to the upstream single-agent tool-use
// loop, following the Config/NewClient/typed-error shape of a typical HTTP
// SDK client. When no credential is configured it degrades to synthetic
// mode: it calls the exec primitive directly and returns an equivalent
// response, so the run service never needs to know which mode is active.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/model"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Credential string
	HTTPClient *http.Client
	Synthetic  bool // true when FAKE_PLANNER or no credential is configured
}

// Client calls the upstream planner, or degrades to synthetic mode.
type Client struct {
	baseURL    string
	credential string
	http       *http.Client
	synthetic  bool
	tool       *codexec.Tool
}

// New validates cfg and returns a Client.
func New(cfg Config, tool *codexec.Tool) (*Client, error) {
	if !cfg.Synthetic && cfg.BaseURL == "" {
		return nil, fmt.Errorf("planner: base URL required unless running in synthetic mode")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0} // no orchestrator-imposed timeout, per spec §4.5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		credential: cfg.Credential,
		http:       httpClient,
		synthetic:  cfg.Synthetic,
		tool:       tool,
	}, nil
}

// Message is one entry of a Request's messages list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestContext carries the dispatch context alongside the message list.
type RequestContext struct {
	Workspace      string `json:"workspace"`
	PatternBlock   string `json:"pattern_block"`
	BasePrompt     string `json:"base_prompt"`
	TaskType       string `json:"task_type"`
	Profile        string `json:"profile,omitempty"`
	PriorSessionID string `json:"prior_session_id,omitempty"`
	RunID          string `json:"run_id"`
}

// Request is the upstream planner call body.
type Request struct {
	Messages []Message      `json:"messages"`
	Context  RequestContext `json:"context"`
}

// Response is the upstream planner's reply.
type Response struct {
	Reply            string `json:"reply"`
	UpstreamSessionID string `json:"upstream_session_id"`
}

// Dispatch calls the planner (or the synthetic path) with the composed
// system prompt and the user instructions.
func (c *Client) Dispatch(ctx context.Context, req Request, bundle codexec.Bundle, seq *codexec.SeqCounter, isCancelled func() bool) (*Response, error) {
	if c.synthetic {
		return c.dispatchSynthetic(ctx, req, bundle, seq, isCancelled)
	}
	return c.dispatchHTTP(ctx, req)
}

func (c *Client) dispatchSynthetic(ctx context.Context, req Request, bundle codexec.Bundle, seq *codexec.SeqCounter, isCancelled func() bool) (*Response, error) {
	instructions := ""
	if len(req.Messages) > 0 {
		instructions = req.Messages[len(req.Messages)-1].Content
	}
	res, err := c.tool.Exec(ctx, bundle, instructions, seq, isCancelled)
	if err != nil {
		return nil, fmt.Errorf("planner: synthetic exec: %w", err)
	}
	if res.ErrorCode != "" {
		return nil, &ExecError{Code: res.ErrorCode, Message: res.ErrorText}
	}
	return &Response{Reply: res.Summary}, nil
}

// ExecError wraps a classified failure from the exec primitive (spec §7's
// error taxonomy) so callers can recover the original code without
// depending on codexec directly.
type ExecError struct {
	Code    model.ErrorCode
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("planner: exec failed: %s: %s", e.Code, e.Message)
}

func (c *Client) dispatchHTTP(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("planner: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("planner: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("planner: dispatch: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) (*Response, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("planner: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: string(data)}
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("planner: decode response: %w", err)
	}
	return &out, nil
}

// Error wraps a non-2xx upstream planner response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("planner: upstream returned %d: %s", e.StatusCode, e.Message)
}
