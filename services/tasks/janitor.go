package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
)

// DefaultPruneSchedule is the cron spec the janitor runs on by default.
const DefaultPruneSchedule = "@every 1m"

const historyPruneTimeout = 30 * time.Second

// HistoryPruner deletes journaled events recorded before cutoff. Implemented
// by history.Journal.
type HistoryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically prunes finished snapshots older than the retention.
type Janitor struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	metrics   metrics.Recorder
	log       *logging.Logger
	clock     Clock

	history          HistoryPruner
	historyRetention time.Duration
}

// NewJanitor schedules pruning of store on the given cron spec.
func NewJanitor(store *Store, retention time.Duration, schedule string, rec metrics.Recorder, log *logging.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if rec == nil {
		rec = metrics.NewNoOpCollector()
	}
	if log == nil {
		log = logging.NewDiscard()
	}

	j := &Janitor{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		metrics:   rec,
		log:       log,
		clock:     time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.PruneOnce() }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// WithHistory also prunes journaled events older than retention on every run.
func (j *Janitor) WithHistory(h HistoryPruner, retention time.Duration) *Janitor {
	if h != nil && retention > 0 {
		j.history = h
		j.historyRetention = retention
	}
	return j
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule; the returned context is done once a running prune finishes.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// PruneOnce removes finished snapshots past retention and returns the count.
func (j *Janitor) PruneOnce() int {
	removed := j.store.Prune(j.clock().Add(-j.retention))
	j.metrics.RecordStoreSize(j.store.Len())
	if removed > 0 {
		j.log.WithContext(context.Background()).WithField("removed", removed).Info("pruned finished task snapshots")
	}
	if j.history != nil {
		j.pruneHistory()
	}
	return removed
}

func (j *Janitor) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), historyPruneTimeout)
	defer cancel()

	n, err := j.history.Prune(ctx, j.clock().Add(-j.historyRetention))
	if err != nil {
		j.log.WithContext(ctx).WithError(err).Warn("history prune failed")
		return
	}
	if n > 0 {
		j.log.WithContext(ctx).WithField("removed", n).Info("pruned task history")
	}
}
