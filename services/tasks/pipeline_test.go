package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
)

type memJournal struct {
	mu      sync.Mutex
	entries map[string][]string
	err     error
}

func (j *memJournal) Append(ctx context.Context, rec *task.Record, stage string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries == nil {
		j.entries = make(map[string][]string)
	}
	j.entries[rec.TaskID] = append(j.entries[rec.TaskID], stage)
	return j.err
}

func listResult(t *testing.T, ids ...string) func(task.Submission) (task.ExecutionStatus, []byte) {
	out := encodeOutput(t, "string[]", ids)
	return func(task.Submission) (task.ExecutionStatus, []byte) {
		return task.ExecutionSuccess, out
	}
}

func TestPipeline_Run(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.result = listResult(t, "secret-1")
	notes := &recordingNotifier{}
	journal := &memJournal{}
	p := newTestPipeline(t, net, notes, func(c *PipelineConfig) { c.Journal = journal })

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	require.NoError(t, err)
	assert.Equal(t, task.LedgerConfirmed, rec.LedgerStatus)
	assert.Equal(t, task.ExecutionSuccess, rec.ExecutionStatus)
	assert.Equal(t, []string{"secret-1"}, rec.Output)
	require.NoError(t, rec.Validate())

	stored, ok := p.Store().Get(rec.TaskID)
	require.True(t, ok)
	assert.True(t, stored.HasPlaintext())

	assert.Equal(t, []string{task.StageSubmitted, task.StageConfirmed, task.StageRetrieved, task.StageDecrypted},
		journal.entries[rec.TaskID])

	stages := notes.stages(rec.TaskID)
	assert.Equal(t, task.StageSubmitted, stages[0])
	assert.Equal(t, task.StageDecrypted, stages[len(stages)-1])
	assert.Contains(t, stages, task.StageConfirmed)
	assert.Contains(t, stages, task.StageRetrieved)
}

func TestPipeline_WaitsForExecution(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.result = listResult(t)
	net.inProgress = 3
	p := newTestPipeline(t, net, nil)

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	require.NoError(t, err)
	assert.Equal(t, []string{}, rec.Output)
	assert.Equal(t, 4, net.fetches[rec.TaskID])
}

func TestPipeline_ResultWaitExceeded(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.inProgress = 1 << 20
	p := newTestPipeline(t, net, nil, func(c *PipelineConfig) { c.ResultWait = 20 * time.Millisecond })

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	require.Error(t, err)
	assert.True(t, task.IsPollTimeout(err))
	require.NotNil(t, rec)
	assert.Equal(t, task.ExecutionInProgress, rec.ExecutionStatus)

	var terr *task.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "await_result", terr.Op)
}

func TestPipeline_ExecutionFailure(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.result = func(task.Submission) (task.ExecutionStatus, []byte) { return task.ExecutionFailure, nil }
	p := newTestPipeline(t, net, nil)

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrExecutionFailed)
	require.NotNil(t, rec)
	assert.Equal(t, task.ExecutionFailure, rec.ExecutionStatus)
	assert.False(t, rec.HasSealedOutput())
	assert.Equal(t, "execution_failed", Outcome(err))

	stored, ok := p.Store().Get(rec.TaskID)
	require.True(t, ok)
	assert.True(t, stored.Finished())
}

func TestPipeline_LedgerFailure(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.script = func(task.Submission) []task.LedgerStatus {
		return []task.LedgerStatus{task.LedgerRecordCreated, task.LedgerFailed}
	}
	p := newTestPipeline(t, net, nil)

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	assert.ErrorIs(t, err, task.ErrLedgerFailed)
	require.NotNil(t, rec)
	assert.Equal(t, task.LedgerFailed, rec.LedgerStatus)
	assert.Zero(t, net.fetches[rec.TaskID], "failed tasks are never retrieved")
}

func TestPipeline_EncodingFailure(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	p := newTestPipeline(t, net, nil)

	req := listRequest(testOwner)
	req.FunctionSignature = "broken("
	rec, err := p.Run(context.Background(), req)
	assert.Nil(t, rec)
	assert.True(t, task.IsEncodingError(err))
	assert.Zero(t, net.createCalls)
	assert.Zero(t, p.Store().Len())
}

func TestPipeline_IngressFailureKeepsRecord(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.ingressErr = errors.New("worker down")
	p := newTestPipeline(t, net, nil)

	rec, err := p.Run(context.Background(), listRequest(testOwner))
	require.Error(t, err)
	assert.True(t, task.IsSubmissionError(err))
	require.NotNil(t, rec)
	_, ok := p.Store().Get(rec.TaskID)
	assert.True(t, ok)
}

func TestPipeline_JournalErrorsDoNotFailRun(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	journal := &memJournal{err: errors.New("db down")}
	p := newTestPipeline(t, net, nil, func(c *PipelineConfig) { c.Journal = journal })

	_, err := p.Run(context.Background(), Request{
		FunctionSignature: SigRemoveSecret,
		Args:              []task.Arg{task.NewArg(testOwner, "address"), task.NewArg("secret-1", "string")},
		GasLimit:          1,
		Sender:            testSender,
		TargetContract:    testTarget,
	})
	require.NoError(t, err)
}

func TestPipeline_RunAllIndependent(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	failingSender := "0x" + "44444444444444444444444444444444444444ff"
	net.script = func(sub task.Submission) []task.LedgerStatus {
		if sub.Sender == failingSender {
			return []task.LedgerStatus{task.LedgerRecordCreated, task.LedgerFailed}
		}
		return []task.LedgerStatus{task.LedgerRecordCreated, task.LedgerConfirmed}
	}
	net.result = listResult(t, "a")
	p := newTestPipeline(t, net, nil)

	first := listRequest(testOwner)
	failing := listRequest(testOwner)
	failing.Sender = failingSender
	last := listRequest(testOwner)
	last.Sender = "0x" + "55555555555555555555555555555555555555aa"

	results := p.RunAll(context.Background(), []Request{first, failing, last})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"a"}, results[0].Record.Output)
	assert.Equal(t, testSender, results[0].Record.Sender)

	assert.ErrorIs(t, results[1].Err, task.ErrLedgerFailed)
	assert.Equal(t, failingSender, results[1].Record.Sender)

	require.NoError(t, results[2].Err)
	assert.Equal(t, []string{"a"}, results[2].Record.Output)

	assert.NotEqual(t, results[0].Record.TaskID, results[2].Record.TaskID)
	assert.Equal(t, 3, p.Store().Len())
}

func TestPipeline_Cancelled(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	net.script = func(task.Submission) []task.LedgerStatus {
		return []task.LedgerStatus{task.LedgerRecordCreated}
	}
	p := newTestPipeline(t, net, nil, func(c *PipelineConfig) { c.MaxWait = time.Minute })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rec, err := p.Run(ctx, listRequest(testOwner))
	assert.True(t, task.IsCancelled(err))
	require.NotNil(t, rec)
	assert.Equal(t, task.LedgerRecordCreated, rec.LedgerStatus)
}

func TestPipeline_RecordsMetrics(t *testing.T) {
	net := newFakeNetwork(testKeyring(t))
	collector := metrics.NewCollector("pipeline_test")
	p := newTestPipeline(t, net, nil, func(c *PipelineConfig) { c.Metrics = collector })

	_, err := p.Run(context.Background(), Request{
		FunctionSignature: SigRemoveSecret,
		Args:              []task.Arg{task.NewArg(testOwner, "address"), task.NewArg("x", "string")},
		GasLimit:          1,
		Sender:            testSender,
		TargetContract:    testTarget,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, `pipeline_test_outcomes_total{outcome="decrypted"} 1`)
	assert.Contains(t, body, "pipeline_test_in_flight 0")
	assert.Contains(t, body, "pipeline_test_store_records 1")
}

func TestNewPipeline_RequiresCodec(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{})
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"decrypted":        nil,
		"ledger_failed":    task.NewLedgerFailedError(nil),
		"execution_failed": fmt.Errorf("run: %w", task.NewExecutionFailedError(nil)),
		"timeout":          task.NewPollTimeoutError(nil, "x"),
		"cancelled":        task.NewCancelledError("op", nil, context.Canceled),
		"encoding_error":   task.NewEncodingError("x", nil),
		"submission_error": task.NewSubmissionError("", "x", nil),
		"retrieval_error":  task.NewRetrievalError("", "x", nil),
		"decryption_error": task.NewDecryptionError("", errors.New("x")),
		"decoding_error":   task.NewDecodingError("", "x", nil),
		"invalid_state":    task.NewInvalidStateError("op", "", "x"),
		"error":            errors.New("other"),
	}
	for want, err := range tests {
		assert.Equal(t, want, Outcome(err))
	}
}
