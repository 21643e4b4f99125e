// Package ledger provides the HTTP client for the external settlement
// network.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Client talks JSON-RPC to a settlement network node.
type Client struct {
	mu         sync.RWMutex
	rpcURL     string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a settlement network client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call to the node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// AccountExists reports whether the address is funded on the network. A
// not-found error from the node is a regular false, not a failure.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	_, err := c.GetAccount(ctx, address)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetAccount returns the account record.
func (c *Client) GetAccount(ctx context.Context, address string) (Account, error) {
	result, err := c.Call(ctx, "getaccount", []interface{}{address})
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := json.Unmarshal(result, &acct); err != nil {
		return Account{}, fmt.Errorf("unmarshal account: %w", err)
	}
	return acct, nil
}

// CreateAccountWithAuthorization funds the account and establishes the
// authorization record in one atomic submission.
func (c *Client) CreateAccountWithAuthorization(ctx context.Context, address string, a Asset, reserve asset.Amount) (string, error) {
	result, err := c.Call(ctx, "createaccount", []interface{}{address, a, reserve.String()})
	if err != nil {
		return "", err
	}
	return parseTxRef(result)
}

// CreateAuthorization establishes the asset authorization record on an
// existing account.
func (c *Client) CreateAuthorization(ctx context.Context, address string, a Asset) (string, error) {
	result, err := c.Call(ctx, "createauthorization", []interface{}{address, a})
	if err != nil {
		return "", err
	}
	return parseTxRef(result)
}

// CreateClaimableUnit issues a claim addressed to the recipient.
func (c *Client) CreateClaimableUnit(ctx context.Context, recipient string, a Asset, amount asset.Amount) (SubmitResult, error) {
	result, err := c.Call(ctx, "createclaimableunit", []interface{}{recipient, a, amount.String()})
	if err != nil {
		return SubmitResult{}, err
	}
	var submit SubmitResult
	if err := json.Unmarshal(result, &submit); err != nil {
		return SubmitResult{}, fmt.Errorf("unmarshal submit result: %w", err)
	}
	return submit, nil
}

// EffectsByTransaction re-queries the effect history for a submission.
func (c *Client) EffectsByTransaction(ctx context.Context, txRef string) ([]Effect, error) {
	result, err := c.Call(ctx, "geteffects", []interface{}{txRef})
	if err != nil {
		return nil, err
	}
	var effects []Effect
	if err := json.Unmarshal(result, &effects); err != nil {
		return nil, fmt.Errorf("unmarshal effects: %w", err)
	}
	return effects, nil
}

// AssetBalance returns the recipient's confirmed holdings of the asset.
func (c *Client) AssetBalance(ctx context.Context, address string, a Asset) (asset.Amount, error) {
	result, err := c.Call(ctx, "getbalance", []interface{}{address, a})
	if err != nil {
		return 0, err
	}
	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return asset.Parse(raw)
}

func parseTxRef(result json.RawMessage) (string, error) {
	var response struct {
		TxRef string `json:"tx_ref"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("unmarshal tx ref: %w", err)
	}
	return response.TxRef, nil
}

func isNotFound(err error) bool {
	if rpcErr, ok := err.(*rpcError); ok && rpcErr.Code == -404 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
