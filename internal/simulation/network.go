package simulation

import (
	"context"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
)

// Errors returned by the simulated ledger and worker.
var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrDuplicateTask   = errors.New("task already anchored")
	ErrBadSubmission   = errors.New("submission rejected")
	ErrUnknownFunction = errors.New("no contract function for selector")
)

// Sealer seals execution output for a task.
type Sealer interface {
	Seal(taskID string, plaintext []byte) ([]byte, error)
}

// Config configures a Network.
type Config struct {
	Enclave   *Enclave
	Functions []Function
	Keys      Sealer
	// ConfirmAfter is the number of status queries a record spends in
	// RecordCreated before the ledger confirms it. Defaults to 2.
	ConfirmAfter int
	// ExecuteAfter is the number of worker requests answered InProgress
	// after confirmation.
	ExecuteAfter int
	// FailLedger, when set, makes the ledger fail matching records.
	FailLedger func(task.Submission) bool
	Logger     *logging.Logger
}

type entry struct {
	sub       task.Submission
	ledger    task.LedgerStatus
	queries   int
	delivered bool
	requests  int

	once   sync.Once
	exec   task.ExecutionStatus
	sealed []byte
}

type function struct {
	sig     abi.Signature
	returns string
}

// Network simulates the anchoring ledger and a compute worker backed by an
// Enclave. It implements the tasks Ledger, LedgerStatusReader and Worker
// interfaces.
type Network struct {
	mu        sync.Mutex
	enclave   *Enclave
	keys      Sealer
	functions map[[4]byte]function
	nonces    map[string]uint64
	tasks     map[string]*entry
	cfg       Config
	log       *logging.Logger
}

// NewNetwork creates a simulated network.
func NewNetwork(cfg Config) (*Network, error) {
	if cfg.Enclave == nil {
		return nil, fmt.Errorf("enclave required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("sealing keys required")
	}
	if cfg.ConfirmAfter <= 0 {
		cfg.ConfirmAfter = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}

	fns := make(map[[4]byte]function, len(cfg.Functions))
	for _, f := range cfg.Functions {
		sig, err := abi.ParseSignature(f.Signature)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", f.Signature, err)
		}
		if !cfg.Enclave.Has(sig.Name) {
			return nil, fmt.Errorf("function %q: script does not define %s", f.Signature, sig.Name)
		}
		fns[abi.Selector(sig)] = function{sig: sig, returns: f.Returns}
	}

	return &Network{
		enclave:   cfg.Enclave,
		keys:      cfg.Keys,
		functions: fns,
		nonces:    make(map[string]uint64),
		tasks:     make(map[string]*entry),
		cfg:       cfg,
		log:       cfg.Logger,
	}, nil
}

// NewSecretWhitelistNetwork creates a network serving the secret whitelist contract.
func NewSecretWhitelistNetwork(keys Sealer, log *logging.Logger) (*Network, error) {
	enclave, err := NewEnclave(SecretWhitelistScript, log)
	if err != nil {
		return nil, err
	}
	return NewNetwork(Config{
		Enclave:   enclave,
		Functions: SecretWhitelistFunctions,
		Keys:      keys,
		Logger:    log,
	})
}

// NextNonce returns the nonce the next record of sender must use.
func (n *Network) NextNonce(ctx context.Context, sender string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[sender], nil
}

// CreateTaskRecord anchors a submission after checking its fingerprint, task
// id, nonce and, when present, its signature.
func (n *Network) CreateTaskRecord(ctx context.Context, sub task.Submission) (*task.Receipt, error) {
	if err := verifySubmission(sub); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, dup := n.tasks[sub.TaskID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, sub.TaskID)
	}
	if want := n.nonces[sub.Sender]; sub.Nonce != want {
		return nil, fmt.Errorf("%w: nonce %d, expected %d", ErrBadSubmission, sub.Nonce, want)
	}

	n.nonces[sub.Sender]++
	n.tasks[sub.TaskID] = &entry{sub: sub, ledger: task.LedgerRecordCreated}
	n.log.WithField("task_id", sub.TaskID).Debug("simulated ledger anchored task")

	txHash := abi.Keccak256([]byte("tx"), []byte(sub.TaskID))
	return &task.Receipt{TxHash: "0x" + hex.EncodeToString(txHash), Status: task.LedgerRecordCreated}, nil
}

// GetTaskRecordStatus reports the ledger status, advancing it as it is polled.
func (n *Network) GetTaskRecordStatus(ctx context.Context, taskID string) (task.LedgerStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.tasks[taskID]
	if !ok {
		return task.LedgerUnknown, nil
	}
	e.queries++
	if e.ledger == task.LedgerRecordCreated && e.queries >= n.cfg.ConfirmAfter {
		e.ledger = task.LedgerConfirmed
		if n.cfg.FailLedger != nil && n.cfg.FailLedger(e.sub) {
			e.ledger = task.LedgerFailed
		}
	}
	return e.ledger, nil
}

// SendTaskInput accepts an anchored submission for execution.
func (n *Network) SendTaskInput(ctx context.Context, sub task.Submission) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.tasks[sub.TaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, sub.TaskID)
	}
	if e.sub.Fingerprint != sub.Fingerprint {
		return fmt.Errorf("%w: fingerprint does not match anchored record", ErrBadSubmission)
	}
	e.delivered = true
	return nil
}

// GetTaskStatus reports the execution status of a task.
func (n *Network) GetTaskStatus(ctx context.Context, taskID string) (task.ExecutionStatus, error) {
	e, ready := n.ready(taskID)
	if !ready {
		if e == nil {
			return task.ExecutionUnset, nil
		}
		return n.pending(e), nil
	}
	n.execute(ctx, e)
	return e.exec, nil
}

// GetTaskResult returns the sealed result of a task.
func (n *Network) GetTaskResult(ctx context.Context, taskID string) (*task.SealedResult, error) {
	e, ready := n.ready(taskID)
	if !ready {
		if e == nil {
			return &task.SealedResult{Execution: task.ExecutionUnset}, nil
		}
		return &task.SealedResult{Execution: n.pending(e)}, nil
	}
	n.execute(ctx, e)
	res := &task.SealedResult{Execution: e.exec}
	if e.exec == task.ExecutionSuccess {
		res.Output = append([]byte{}, e.sealed...)
	}
	return res, nil
}

// ready returns the entry and whether it may execute now. Each call counts
// as one worker request toward ExecuteAfter.
func (n *Network) ready(taskID string) (*entry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.tasks[taskID]
	if !ok || e.ledger != task.LedgerConfirmed || !e.delivered {
		return e, false
	}
	e.requests++
	return e, e.requests > n.cfg.ExecuteAfter
}

func (n *Network) pending(e *entry) task.ExecutionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e.ledger == task.LedgerConfirmed && e.delivered {
		return task.ExecutionInProgress
	}
	return task.ExecutionUnset
}

// execute runs the task once; the outcome is kept for later requests.
func (n *Network) execute(ctx context.Context, e *entry) {
	e.once.Do(func() {
		logger := n.log.WithField("task_id", e.sub.TaskID)
		plaintext, err := n.run(ctx, e.sub.Payload)
		if err == nil {
			e.sealed, err = n.keys.Seal(e.sub.TaskID, plaintext)
		}
		if err != nil {
			logger.WithError(err).Warn("simulated execution failed")
			e.exec = task.ExecutionFailure
			return
		}
		logger.Debug("simulated execution succeeded")
		e.exec = task.ExecutionSuccess
	})
}

func (n *Network) run(ctx context.Context, payload []byte) ([]byte, error) {
	selector, items, err := abi.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	fn, ok := n.functions[selector]
	if !ok {
		return nil, fmt.Errorf("%w 0x%x", ErrUnknownFunction, selector)
	}
	args, err := abi.DecodeArgs(fn.sig, items)
	if err != nil {
		return nil, err
	}
	out, err := n.enclave.Execute(ctx, fn.sig.Name, args)
	if err != nil {
		return nil, err
	}
	if fn.returns == "" {
		out = nil
	}
	return abi.EncodeValue(fn.returns, out)
}

func verifySubmission(sub task.Submission) error {
	if got := "0x" + hex.EncodeToString(abi.Keccak256(sub.Payload)); got != sub.Fingerprint {
		return fmt.Errorf("%w: fingerprint does not match payload", ErrBadSubmission)
	}
	sender, err := abi.ParseAddress(sub.Sender)
	if err != nil {
		return fmt.Errorf("%w: sender: %v", ErrBadSubmission, err)
	}
	id, err := tasks.ComputeTaskID(sub.Fingerprint, sender, sub.Nonce)
	if err != nil || id != sub.TaskID {
		return fmt.Errorf("%w: task id does not match fingerprint, sender and nonce", ErrBadSubmission)
	}
	if len(sub.Signature) == 0 {
		return nil
	}

	pub, err := keys.NewPublicKeyFromBytes(sub.PublicKey, elliptic.P256())
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrBadSubmission, err)
	}
	if "0x"+pub.GetScriptHash().StringLE() != abi.FormatAddress(sender) {
		return fmt.Errorf("%w: signer is not the sender", ErrBadSubmission)
	}
	digest, err := util.Uint256DecodeBytesBE(tasks.SigningDigest(sub.TaskID, sub.Fingerprint))
	if err != nil {
		return err
	}
	if !pub.Verify(sub.Signature, digest.BytesBE()) {
		return fmt.Errorf("%w: bad signature", ErrBadSubmission)
	}
	return nil
}

var (
	_ tasks.Ledger             = (*Network)(nil)
	_ tasks.LedgerStatusReader = (*Network)(nil)
	_ tasks.Worker             = (*Network)(nil)
)
