// Package compute is the client for the confidential compute network's worker
// JSON-RPC endpoint: task ingress, execution status and the sealed result store.
package compute

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/httputil"
)

// Worker JSON-RPC methods.
const (
	MethodSendTaskInput = "sendTaskInput"
	MethodGetTaskStatus = "getTaskStatus"
	MethodGetTaskResult = "getTaskResult"
)

// Client talks to a compute network worker.
type Client struct {
	rpc *httputil.RPCClient
}

// Config holds client configuration.
type Config struct {
	WorkerURL string
	Timeout   time.Duration
	Limiter   *rate.Limiter
}

// NewClient creates a worker client.
func NewClient(cfg Config) (*Client, error) {
	rpc, err := httputil.NewRPCClient(httputil.RPCClientConfig{
		Endpoint: cfg.WorkerURL,
		Timeout:  cfg.Timeout,
		Limiter:  cfg.Limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("compute worker: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

type taskInput struct {
	TaskID         string `json:"taskId"`
	Payload        string `json:"payload"`
	Fingerprint    string `json:"fingerprint"`
	GasLimit       uint64 `json:"gasLimit"`
	GasPrice       uint64 `json:"gasPrice"`
	Sender         string `json:"sender"`
	TargetContract string `json:"contractAddress"`
	Nonce          uint64 `json:"nonce"`
	Signature      string `json:"signature,omitempty"`
	PublicKey      string `json:"publicKey,omitempty"`
}

// SendTaskInput delivers a task to the worker ingress. It is sent once.
func (c *Client) SendTaskInput(ctx context.Context, sub task.Submission) error {
	in := taskInput{
		TaskID:         sub.TaskID,
		Payload:        encodeHex(sub.Payload),
		Fingerprint:    sub.Fingerprint,
		GasLimit:       sub.GasLimit,
		GasPrice:       sub.GasPrice,
		Sender:         sub.Sender,
		TargetContract: sub.TargetContract,
		Nonce:          sub.Nonce,
	}
	if len(sub.Signature) > 0 {
		in.Signature = encodeHex(sub.Signature)
		in.PublicKey = encodeHex(sub.PublicKey)
	}

	raw, err := c.rpc.Call(ctx, MethodSendTaskInput, in)
	if err != nil {
		return fmt.Errorf("%s: %w", MethodSendTaskInput, err)
	}
	accepted := gjson.GetBytes(raw, "sendTaskResult")
	if !accepted.Exists() || !accepted.Bool() {
		return fmt.Errorf("%s: task %s not accepted", MethodSendTaskInput, sub.TaskID)
	}
	return nil
}

// GetTaskStatus returns the worker's execution status for a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (task.ExecutionStatus, error) {
	raw, err := c.rpc.CallWithRetry(ctx, MethodGetTaskStatus, map[string]string{"taskId": taskID})
	if err != nil {
		return task.ExecutionUnset, fmt.Errorf("%s: %w", MethodGetTaskStatus, err)
	}
	return task.ExecutionStatusFromString(statusField(gjson.ParseBytes(raw))), nil
}

// GetTaskResult fetches the sealed result of a task. Output is only
// populated for a SUCCESS status.
func (c *Client) GetTaskResult(ctx context.Context, taskID string) (*task.SealedResult, error) {
	raw, err := c.rpc.CallWithRetry(ctx, MethodGetTaskResult, map[string]string{"taskId": taskID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGetTaskResult, err)
	}

	res := gjson.ParseBytes(raw)
	out := &task.SealedResult{Execution: task.ExecutionStatusFromString(statusField(res))}
	if out.Execution != task.ExecutionSuccess {
		return out, nil
	}

	if output := res.Get("output"); output.Exists() && output.String() != "" {
		sealed, err := decodeHex(output.String())
		if err != nil {
			return nil, fmt.Errorf("%s: output: %w", MethodGetTaskResult, err)
		}
		out.Output = sealed
	}
	return out, nil
}

// statusField accepts both {"status": "..."} and a bare status string.
func statusField(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.String()
	}
	return res.Get("status").String()
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
