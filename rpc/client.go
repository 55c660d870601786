package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error is a JSON-RPC error returned by the server.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client calls a mintd JSON-RPC endpoint.
type Client struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
}

// NewClient returns a client with a bounded default timeout.
func NewClient(endpoint, token string) *Client {
	return &Client{
		Endpoint: strings.TrimSpace(endpoint),
		Token:    strings.TrimSpace(token),
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Call invokes method with a single parameter and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, param interface{}) (json.RawMessage, error) {
	params := []interface{}{}
	if param != nil {
		params = append(params, param)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Execute submits an execute message as sender.
func (c *Client) Execute(ctx context.Context, sender string, msg interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, MethodExecute, ExecuteParams{Sender: sender, Msg: raw})
}
