package tasks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
)

// DefaultPollInterval is used when AwaitConfirmation gets a non-positive interval.
const DefaultPollInterval = time.Second

// PollerConfig configures a Poller.
type PollerConfig struct {
	Status   StatusQuerier
	Notifier Notifier
	Logger   *logging.Logger
	Metrics  metrics.Recorder
	Clock    Clock
	// Limiter paces status queries across every record this poller serves.
	Limiter *rate.Limiter
}

// Poller waits for the ledger to confirm or fail task records.
type Poller struct {
	status   StatusQuerier
	notifier Notifier
	log      *logging.Logger
	metrics  metrics.Recorder
	clock    Clock
	limiter  *rate.Limiter
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("status querier required")
	}
	p := &Poller{
		status:   cfg.Status,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		limiter:  cfg.Limiter,
	}
	if p.notifier == nil {
		p.notifier = nopNotifier{}
	}
	if p.log == nil {
		p.log = logging.NewDiscard()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewNoOpCollector()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	return p, nil
}

// AwaitConfirmation polls the ledger status of rec every pollInterval until it
// is Confirmed or Failed, maxWait elapses, or ctx is cancelled.
//
// The returned record is always the last observed snapshot, also on error:
//   - Failed: the Failed record and an error wrapping task.ErrLedgerFailed.
//   - maxWait exceeded: a PollTimeoutError; the record keeps its last
//     non-terminal status.
//   - ctx cancelled: a Cancelled error.
//
// A record that is already terminal is returned without querying. A
// non-positive maxWait on a non-terminal record fails immediately with a
// PollTimeoutError and no query.
func (p *Poller) AwaitConfirmation(ctx context.Context, rec *task.Record, pollInterval, maxWait time.Duration) (*task.Record, error) {
	if rec == nil {
		return nil, task.NewInvalidStateError("await_confirmation", "", "nil record")
	}
	cur := rec.Clone()

	switch cur.LedgerStatus {
	case task.LedgerConfirmed:
		return cur, nil
	case task.LedgerFailed:
		return cur, task.NewLedgerFailedError(cur)
	}

	if maxWait <= 0 {
		return cur, task.NewPollTimeoutError(cur, "no wait budget")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	logger := p.log.WithTask(ctx, cur.TaskID)
	start := time.Now()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	wait := time.NewTimer(0)
	defer wait.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return cur, task.NewCancelledError("await_confirmation", cur, ctx.Err())
		case <-deadline.C:
			return cur, task.NewPollTimeoutError(cur, fmt.Sprintf("not confirmed within %s", maxWait))
		case <-wait.C:
		}

		queryStart := time.Now()
		st, err := p.query(ctx, cur.TaskID)
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return cur, task.NewCancelledError("await_confirmation", cur, ctx.Err())
			}
			p.metrics.RecordPollTick("error")
			logger.WithError(err).WithField("tick", tick).Warn("status query failed, retrying")
			p.notifier.Notify(ctx, p.progress(cur, task.StagePolling, tick, elapsed, err))
			wait.Reset(pollInterval)
			continue
		}
		p.metrics.RecordStage("poll_tick", time.Since(queryStart), nil)
		p.metrics.RecordPollTick(st.Ledger.String())

		if st.Ledger != cur.LedgerStatus {
			if cur.LedgerStatus.CanTransition(st.Ledger) {
				if err := cur.AdvanceLedger(st.Ledger, p.clock()); err != nil {
					return cur, err
				}
			} else {
				logger.WithField("reported", st.Ledger.String()).Debug("ignoring backward ledger status")
			}
		}
		p.notifier.Notify(ctx, p.progress(cur, task.StagePolling, tick, elapsed, nil))

		switch cur.LedgerStatus {
		case task.LedgerConfirmed:
			logger.WithField("ticks", tick).Info("task confirmed")
			p.notifier.Notify(ctx, p.progress(cur, task.StageConfirmed, tick, elapsed, nil))
			return cur, nil
		case task.LedgerFailed:
			lerr := task.NewLedgerFailedError(cur)
			logger.WithField("ticks", tick).Error("ledger reported task failure")
			p.notifier.Notify(ctx, p.progress(cur, task.StageFailed, tick, elapsed, lerr))
			return cur, lerr
		}

		if time.Since(start) >= maxWait {
			return cur, task.NewPollTimeoutError(cur, fmt.Sprintf("not confirmed within %s", maxWait))
		}
		wait.Reset(pollInterval)
	}
}

func (p *Poller) query(ctx context.Context, taskID string) (task.Status, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return task.Status{}, err
		}
	}
	return p.status.QueryStatus(ctx, taskID)
}

func (p *Poller) progress(rec *task.Record, stage string, tick int, elapsed time.Duration, err error) task.Progress {
	ev := task.Progress{
		TaskID:    rec.TaskID,
		Stage:     stage,
		Tick:      tick,
		Ledger:    rec.LedgerStatus,
		Execution: rec.ExecutionStatus,
		Elapsed:   elapsed,
		At:        p.clock(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}
