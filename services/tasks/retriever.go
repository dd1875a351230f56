package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// Retriever fetches sealed results of confirmed tasks.
type Retriever struct {
	results  ResultFetcher
	notifier Notifier
	log      *logging.Logger
	clock    Clock
}

// NewRetriever creates a retriever.
func NewRetriever(results ResultFetcher, notifier Notifier, log *logging.Logger, clock Clock) (*Retriever, error) {
	if results == nil {
		return nil, fmt.Errorf("result fetcher required")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logging.NewDiscard()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Retriever{results: results, notifier: notifier, log: log, clock: clock}, nil
}

// FetchResult populates the execution status and sealed output of a
// Confirmed record.
//
// A Failure reported by the compute network is a successful retrieval: the
// record comes back with ExecutionFailure, no sealed output and a nil error.
// InProgress (or an unknown status) comes back without output so the caller
// may fetch again.
func (r *Retriever) FetchResult(ctx context.Context, rec *task.Record) (*task.Record, error) {
	if rec == nil {
		return nil, task.NewInvalidStateError("fetch_result", "", "nil record")
	}
	if rec.LedgerStatus != task.LedgerConfirmed {
		return nil, task.NewInvalidStateError("fetch_result", rec.TaskID,
			fmt.Sprintf("ledger status is %s, retrieval requires confirmed", rec.LedgerStatus))
	}

	res, err := r.results.FetchSealedResult(ctx, rec.TaskID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, task.NewCancelledError("fetch_result", rec.Clone(), ctx.Err())
		}
		return nil, task.NewRetrievalError(rec.TaskID, "fetch sealed result", err)
	}
	if res == nil {
		return nil, task.NewRetrievalError(rec.TaskID, "result store returned nothing", nil)
	}

	out := rec.Clone()
	out.SealedOutput = nil
	out.PlaintextOutput = nil
	out.Output = nil
	out.ExecutionStatus = res.Execution

	switch res.Execution {
	case task.ExecutionSuccess:
		if res.Output == nil {
			return nil, task.NewRetrievalError(rec.TaskID, "execution succeeded without sealed output", nil)
		}
		out.SealedOutput = append([]byte{}, res.Output...)
	case task.ExecutionFailure:
		r.log.WithTask(ctx, rec.TaskID).Warn("confidential execution failed")
	}
	out.UpdatedAt = r.clock()

	if out.ExecutionStatus == task.ExecutionSuccess || out.ExecutionStatus == task.ExecutionFailure {
		r.log.WithTask(ctx, rec.TaskID).WithField("execution_status", out.ExecutionStatus.String()).Info("result retrieved")
		r.notifier.Notify(ctx, task.Progress{
			TaskID:    out.TaskID,
			Stage:     task.StageRetrieved,
			Ledger:    out.LedgerStatus,
			Execution: out.ExecutionStatus,
			At:        out.UpdatedAt,
		})
	}
	return out, nil
}
