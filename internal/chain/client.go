// Package chain provides Neo N3 ledger interaction for the task services.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/confidential_tasks/internal/httputil"
)

// Client provides Neo N3 RPC client functionality.
type Client struct {
	rpc       *httputil.RPCClient
	networkID uint32
}

// Config holds client configuration.
type Config struct {
	RPCURL    string
	NetworkID uint32 // MainNet: 860833102, TestNet: 894710606
	Timeout   time.Duration
	// Limiter paces every RPC call. Pollers for many tasks share one.
	Limiter *rate.Limiter
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	rpc, err := httputil.NewRPCClient(httputil.RPCClientConfig{
		Endpoint: cfg.RPCURL,
		Timeout:  cfg.Timeout,
		Limiter:  cfg.Limiter,
	})
	if err != nil {
		return nil, err
	}

	return &Client{rpc: rpc, networkID: cfg.NetworkID}, nil
}

// NetworkID returns the configured network magic.
func (c *Client) NetworkID() uint32 {
	return c.networkID
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes a single RPC call to the Neo N3 node. It is never retried.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.rpc.Call(ctx, method, params)
}

// query makes a read-only RPC call, retried when the node sheds load.
func (c *Client) query(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.rpc.CallWithRetry(ctx, method, params)
}

// GetBlockCount returns the current block height.
func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	result, err := c.query(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}

	var count uint64
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}
	return count, nil
}

// GetVersion returns the node version.
func (c *Client) GetVersion(ctx context.Context) (*NodeVersion, error) {
	result, err := c.query(ctx, "getversion")
	if err != nil {
		return nil, err
	}

	var version NodeVersion
	if err := json.Unmarshal(result, &version); err != nil {
		return nil, fmt.Errorf("unmarshal version: %w", err)
	}
	return &version, nil
}

// =============================================================================
// Contract Invocation Methods
// =============================================================================

// InvokeFunction invokes a contract function read-only.
func (c *Client) InvokeFunction(ctx context.Context, scriptHash, method string, params []ContractParam) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	result, err := c.query(ctx, "invokefunction", scriptHash, method, params)
	if err != nil {
		return nil, err
	}
	return decodeInvokeResult(result)
}

// SubmitInvocation invokes a state-changing contract function on behalf of
// signers. The node relays the resulting transaction and reports its hash.
// It is sent exactly once.
func (c *Client) SubmitInvocation(ctx context.Context, scriptHash, method string, params []ContractParam, signers []Signer) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	result, err := c.Call(ctx, "invokefunction", scriptHash, method, params, signers)
	if err != nil {
		return nil, err
	}
	return decodeInvokeResult(result)
}

func decodeInvokeResult(raw json.RawMessage) (*InvokeResult, error) {
	var invokeResult InvokeResult
	if err := json.Unmarshal(raw, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}
