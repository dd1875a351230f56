// Package tasks drives the lifecycle of confidential compute tasks:
// submission, confirmation polling, result retrieval and decryption.
//
// Each stage takes a record snapshot and returns an advanced copy; the input
// record is never modified. External collaborators (ledger, compute worker,
// key material) are injected through the interfaces below.
package tasks

import (
	"context"
	"time"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// Ledger anchors task records. Implemented by chain.TaskLedger.
type Ledger interface {
	NextNonce(ctx context.Context, sender string) (uint64, error)
	CreateTaskRecord(ctx context.Context, sub task.Submission) (*task.Receipt, error)
}

// Ingress delivers task input to the compute network.
type Ingress interface {
	SendTaskInput(ctx context.Context, sub task.Submission) error
}

// StatusQuerier reads the current ledger and execution status of a task.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, taskID string) (task.Status, error)
}

// ResultFetcher reads a task's sealed result from the compute network.
type ResultFetcher interface {
	FetchSealedResult(ctx context.Context, taskID string) (*task.SealedResult, error)
}

// Decrypter opens a sealed result bound to a task identity.
type Decrypter interface {
	Decrypt(taskID string, sealed []byte) ([]byte, error)
}

// Encoder builds task payloads and decodes plaintext results.
type Encoder interface {
	Encode(signature string, args []task.Arg) (*abi.Encoded, error)
	DecodeOutput(schema string, plaintext []byte) (any, error)
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev task.Progress)
}

// Clock is the time source of the stages. Tests substitute it.
type Clock func() time.Time
