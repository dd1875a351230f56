package tasks

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

func TestLogNotifier(t *testing.T) {
	log := logging.New("tasks", "debug", "json")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	n := NewLogNotifier(log)

	n.Notify(context.Background(), task.Progress{TaskID: testTaskID, Stage: task.StagePolling, Tick: 2})
	n.Notify(context.Background(), task.Progress{TaskID: testTaskID, Stage: task.StageFailed, Err: "ledger reported task failure"})
	n.Notify(context.Background(), task.Progress{TaskID: testTaskID, Stage: task.StageDecrypted})

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"level":"warning"`)
	assert.Contains(t, out, `"stage":"decrypted"`)
	assert.Contains(t, out, testTaskID)
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := MultiNotifier{a, nil, b}
	m.Notify(context.Background(), task.Progress{TaskID: testTaskID, Stage: task.StageSubmitted})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
