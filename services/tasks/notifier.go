package tasks

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// LogNotifier writes progress events to the log. Poll ticks go to Debug,
// everything else to Info.
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, ev task.Progress) {
	entry := n.log.WithTask(ctx, ev.TaskID).WithFields(logrus.Fields{
		"stage":            ev.Stage,
		"ledger_status":    ev.Ledger.String(),
		"execution_status": ev.Execution.String(),
	})
	if ev.Stage == task.StagePolling {
		entry.WithFields(logrus.Fields{"tick": ev.Tick, "elapsed": ev.Elapsed}).Debug("waiting for confirmation")
		return
	}
	if ev.Err != "" {
		entry.WithField("error", ev.Err).Warn("task progress")
		return
	}
	entry.Info("task progress")
}

// MultiNotifier fans one event out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev task.Progress) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, task.Progress) {}
