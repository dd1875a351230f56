package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/config"
)

// Task registry contract methods.
const (
	MethodGetNonce            = "getNonce"
	MethodCreateTaskRecord    = "createTaskRecord"
	MethodGetTaskRecordStatus = "getTaskRecordStatus"
)

// =============================================================================
// Contract Addresses
// =============================================================================

// ContractAddresses holds the deployed contract hashes.
type ContractAddresses struct {
	TaskRegistry    string `json:"task_registry"`
	Token           string `json:"token"`
	SecretWhitelist string `json:"secret_whitelist"`
}

// ContractAddressesFromConfig normalizes the configured contract hashes.
// Empty hashes stay empty.
func ContractAddressesFromConfig(cfg config.ContractsConfig) (ContractAddresses, error) {
	var out ContractAddresses
	for _, f := range []struct {
		name string
		in   string
		out  *string
	}{
		{"task_registry", cfg.TaskRegistry, &out.TaskRegistry},
		{"token", cfg.Token, &out.Token},
		{"secret_whitelist", cfg.SecretWhitelist, &out.SecretWhitelist},
	} {
		if f.in == "" {
			continue
		}
		h, err := NormalizeScriptHash(f.in)
		if err != nil {
			return ContractAddresses{}, fmt.Errorf("contract %s: %w", f.name, err)
		}
		*f.out = h
	}
	return out, nil
}

// =============================================================================
// Task Ledger
// =============================================================================

// TaskLedger anchors task records in the task registry contract.
type TaskLedger struct {
	client   *Client
	registry string
}

// NewTaskLedger creates a ledger bound to the task registry contract.
func NewTaskLedger(client *Client, contracts ContractAddresses) (*TaskLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("client required")
	}
	if contracts.TaskRegistry == "" {
		return nil, fmt.Errorf("task registry contract hash required")
	}
	return &TaskLedger{client: client, registry: contracts.TaskRegistry}, nil
}

// NextNonce returns the next unused task nonce of sender.
func (l *TaskLedger) NextNonce(ctx context.Context, sender string) (uint64, error) {
	senderParam, err := hash160Param(sender)
	if err != nil {
		return 0, fmt.Errorf("sender: %w", err)
	}

	res, err := l.client.InvokeFunction(ctx, l.registry, MethodGetNonce, []ContractParam{senderParam})
	if err != nil {
		return 0, fmt.Errorf("invoke %s: %w", MethodGetNonce, err)
	}
	item, err := firstStackItem(res, MethodGetNonce)
	if err != nil {
		return 0, err
	}
	n, err := ParseInteger(item)
	if err != nil {
		return 0, fmt.Errorf("parse nonce: %w", err)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("nonce %s out of range", n)
	}
	return n.Uint64(), nil
}

// CreateTaskRecord anchors a task record. The invocation is sent once;
// a FAULT state is reported as a rejection.
func (l *TaskLedger) CreateTaskRecord(ctx context.Context, sub task.Submission) (*task.Receipt, error) {
	senderParam, err := hash160Param(sub.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	targetParam, err := hash160Param(sub.TargetContract)
	if err != nil {
		return nil, fmt.Errorf("target contract: %w", err)
	}

	params := []ContractParam{
		NewStringParam(sub.TaskID),
		NewStringParam(sub.Fingerprint),
		NewIntegerParam(new(big.Int).SetUint64(sub.GasLimit)),
		NewIntegerParam(new(big.Int).SetUint64(sub.GasPrice)),
		senderParam,
		targetParam,
		NewIntegerParam(new(big.Int).SetUint64(sub.Nonce)),
		NewByteArrayParam(sub.Signature),
		NewByteArrayParam(sub.PublicKey),
	}
	signers := []Signer{{Account: senderParam.Value.(string), Scopes: "CalledByEntry"}}

	res, err := l.client.SubmitInvocation(ctx, l.registry, MethodCreateTaskRecord, params, signers)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", MethodCreateTaskRecord, err)
	}
	if !res.Halted() {
		return nil, fmt.Errorf("%s rejected: %s", MethodCreateTaskRecord, res.Exception)
	}

	txHash := res.Tx
	if res.Hash != "" {
		txHash = res.Hash
	}
	return &task.Receipt{TxHash: txHash, Status: task.LedgerRecordCreated}, nil
}

// GetTaskRecordStatus reads the current registry status of a task.
func (l *TaskLedger) GetTaskRecordStatus(ctx context.Context, taskID string) (task.LedgerStatus, error) {
	res, err := l.client.InvokeFunction(ctx, l.registry, MethodGetTaskRecordStatus, []ContractParam{NewStringParam(taskID)})
	if err != nil {
		return task.LedgerUnknown, fmt.Errorf("invoke %s: %w", MethodGetTaskRecordStatus, err)
	}
	item, err := firstStackItem(res, MethodGetTaskRecordStatus)
	if err != nil {
		return task.LedgerUnknown, err
	}
	if item.Type == "Null" {
		return task.LedgerUnknown, nil
	}
	code, err := ParseInteger(item)
	if err != nil {
		return task.LedgerUnknown, fmt.Errorf("parse status: %w", err)
	}
	if !code.IsInt64() {
		return task.LedgerUnknown, nil
	}
	return task.LedgerStatusFromCode(code.Int64()), nil
}

func hash160Param(addr string) (ContractParam, error) {
	raw, err := abi.ParseAddress(addr)
	if err != nil {
		return ContractParam{}, err
	}
	return NewHash160Param(raw)
}
