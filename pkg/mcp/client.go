// Package mcp provides the tool provider transport: a JSON-RPC 2.0 client for
// remote tool servers and a connection manager that pools sessions, discovers
// tool inventories, and enforces agent tool permissions before any call leaves
// the process.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veracity/pkg/faults"
	"veracity/pkg/logx"
	"veracity/pkg/utils"
)

// maxResponseBytes bounds provider responses so a misbehaving server cannot
// exhaust memory.
const maxResponseBytes = 4 * 1024 * 1024

// ToolDescriptor is a single tool advertised by a provider.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcError is the error member of a JSON-RPC 2.0 response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type listToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// contentBlock is one element of a tools/call result payload.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Client speaks JSON-RPC 2.0 over HTTP to a single tool provider.
type Client struct {
	name       string
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *logx.Logger
}

// NewClient creates a client for one provider endpoint. The timeout applies
// per call; callers layer retries on top via the connection manager.
func NewClient(name, baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		name:      name,
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logx.NewLogger("mcp"),
	}
}

// Name returns the provider name this client is bound to.
func (c *Client) Name() string {
	return c.name
}

// ListTools fetches the provider's tool inventory.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, faults.WithCause(faults.ErrorTypeToolInvocation, err,
			fmt.Sprintf("provider %s returned malformed tool list", c.name))
	}
	return result.Tools, nil
}

// CallTool invokes a named tool and returns the concatenated text content of
// the result.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	params := callToolParams{Name: toolName, Arguments: args}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", faults.WithCause(faults.ErrorTypeToolInvocation, err,
			fmt.Sprintf("provider %s returned malformed result for tool %s", c.name, toolName))
	}

	var buf bytes.Buffer
	for _, block := range result.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}

	if result.IsError {
		return "", faults.Newf(faults.ErrorTypeToolInvocation,
			"tool %s on provider %s failed: %s", toolName, c.name, buf.String())
	}
	return buf.String(), nil
}

// call performs one JSON-RPC round trip. Transport failures are classified
// Connection; provider-reported errors are classified ToolInvocation.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqID := utils.GenerateRequestID()
	envelope := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeToolInvocation, err, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConnection, err,
			fmt.Sprintf("failed to build request for provider %s", c.name))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	c.logger.Debug("provider %s <- %s (id=%s)", c.name, method, reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConnection, err,
			fmt.Sprintf("provider %s unreachable", c.name))
	}
	defer resp.Body.Close() //nolint:errcheck // Best-effort close on defer

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConnection, err,
			fmt.Sprintf("failed to read response from provider %s", c.name))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, faults.Newf(faults.ErrorTypePermission,
			"provider %s rejected credentials (status %d)", c.name, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, faults.Newf(faults.ErrorTypeResourceUnavailable,
			"provider %s overloaded (status %d)", c.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, faults.Newf(faults.ErrorTypeToolInvocation,
			"provider %s returned status %d", c.name, resp.StatusCode)
	}

	var envelope2 rpcResponse
	if err := json.Unmarshal(data, &envelope2); err != nil {
		return nil, faults.WithCause(faults.ErrorTypeToolInvocation, err,
			fmt.Sprintf("provider %s returned invalid JSON-RPC response", c.name))
	}
	if envelope2.Error != nil {
		return nil, faults.WithCause(faults.ErrorTypeToolInvocation, envelope2.Error,
			fmt.Sprintf("provider %s rejected %s", c.name, method))
	}
	if envelope2.ID != reqID {
		return nil, faults.Newf(faults.ErrorTypeToolInvocation,
			"provider %s response id mismatch: want %s got %s", c.name, reqID, envelope2.ID)
	}
	return envelope2.Result, nil
}
