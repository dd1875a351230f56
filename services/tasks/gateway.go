package tasks

import (
	"context"
	"fmt"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// LedgerStatusReader reads the anchoring status of a task.
// Implemented by chain.TaskLedger.
type LedgerStatusReader interface {
	GetTaskRecordStatus(ctx context.Context, taskID string) (task.LedgerStatus, error)
}

// Worker is the compute network worker. Implemented by compute.Client.
type Worker interface {
	SendTaskInput(ctx context.Context, sub task.Submission) error
	GetTaskStatus(ctx context.Context, taskID string) (task.ExecutionStatus, error)
	GetTaskResult(ctx context.Context, taskID string) (*task.SealedResult, error)
}

// Gateway joins the ledger and the compute worker into the status and
// result interfaces the stages consume.
type Gateway struct {
	ledger LedgerStatusReader
	worker Worker
}

// NewGateway creates a gateway.
func NewGateway(ledger LedgerStatusReader, worker Worker) *Gateway {
	return &Gateway{ledger: ledger, worker: worker}
}

// QueryStatus returns the ledger status and, once confirmed, the worker's
// execution status.
func (g *Gateway) QueryStatus(ctx context.Context, taskID string) (task.Status, error) {
	ledger, err := g.ledger.GetTaskRecordStatus(ctx, taskID)
	if err != nil {
		return task.Status{}, fmt.Errorf("ledger status: %w", err)
	}
	st := task.Status{Ledger: ledger}
	if ledger != task.LedgerConfirmed {
		return st, nil
	}
	exec, err := g.worker.GetTaskStatus(ctx, taskID)
	if err != nil {
		return task.Status{}, fmt.Errorf("execution status: %w", err)
	}
	st.Execution = exec
	return st, nil
}

// FetchSealedResult reads the worker's result store.
func (g *Gateway) FetchSealedResult(ctx context.Context, taskID string) (*task.SealedResult, error) {
	return g.worker.GetTaskResult(ctx, taskID)
}

// SendTaskInput forwards a submission to the worker ingress.
func (g *Gateway) SendTaskInput(ctx context.Context, sub task.Submission) error {
	return g.worker.SendTaskInput(ctx, sub)
}

var (
	_ StatusQuerier = (*Gateway)(nil)
	_ ResultFetcher = (*Gateway)(nil)
	_ Ingress       = (*Gateway)(nil)
)
