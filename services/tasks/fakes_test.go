package tasks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/crypto"
)

var (
	testOwner  = "0x" + strings.Repeat("11", 20)
	testSender = "0x" + strings.Repeat("22", 20)
	testTarget = "0x" + strings.Repeat("33", 20)
)

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x5a}, crypto.KeySize)
}

func testKeyring(t *testing.T) *crypto.TaskKeyring {
	t.Helper()
	ring, err := crypto.NewTaskKeyring(testMasterKey())
	require.NoError(t, err)
	t.Cleanup(ring.Close)
	return ring
}

// fakeNetwork stands in for the ledger and the compute worker. Each task gets
// a ledger status script when it is anchored; every query consumes one step
// and the last step repeats.
type fakeNetwork struct {
	mu sync.Mutex

	keys *crypto.TaskKeyring

	script func(sub task.Submission) []task.LedgerStatus
	result func(sub task.Submission) (task.ExecutionStatus, []byte)

	nonces      map[string]uint64
	subs        map[string]task.Submission
	scripts     map[string][]task.LedgerStatus
	queries     map[string]int
	fetches     map[string]int
	delivered   []string
	nonceErr    error
	createErr   error
	ingressErr  error
	statusErrs  int
	fetchErr    error
	inProgress  int
	createCalls int
}

func newFakeNetwork(keys *crypto.TaskKeyring) *fakeNetwork {
	return &fakeNetwork{
		keys:    keys,
		nonces:  make(map[string]uint64),
		subs:    make(map[string]task.Submission),
		scripts: make(map[string][]task.LedgerStatus),
		queries: make(map[string]int),
		fetches: make(map[string]int),
		script: func(task.Submission) []task.LedgerStatus {
			return []task.LedgerStatus{task.LedgerRecordCreated, task.LedgerConfirmed}
		},
		result: func(task.Submission) (task.ExecutionStatus, []byte) {
			return task.ExecutionSuccess, nil
		},
	}
}

func (f *fakeNetwork) NextNonce(ctx context.Context, sender string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonces[sender], nil
}

func (f *fakeNetwork) CreateTaskRecord(ctx context.Context, sub task.Submission) (*task.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, dup := f.subs[sub.TaskID]; dup {
		return nil, errors.New("duplicate task id")
	}
	f.nonces[sub.Sender]++
	f.subs[sub.TaskID] = sub
	f.scripts[sub.TaskID] = f.script(sub)
	return &task.Receipt{TxHash: "0xtx" + sub.TaskID[2:10], Status: task.LedgerRecordCreated}, nil
}

func (f *fakeNetwork) SendTaskInput(ctx context.Context, sub task.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingressErr != nil {
		return f.ingressErr
	}
	f.delivered = append(f.delivered, sub.TaskID)
	return nil
}

func (f *fakeNetwork) QueryStatus(ctx context.Context, taskID string) (task.Status, error) {
	if err := ctx.Err(); err != nil {
		return task.Status{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[taskID]++
	if f.statusErrs > 0 {
		f.statusErrs--
		return task.Status{}, errors.New("connection reset")
	}
	script := f.scripts[taskID]
	if len(script) == 0 {
		return task.Status{Ledger: task.LedgerUnknown}, nil
	}
	step := script[0]
	if len(script) > 1 {
		f.scripts[taskID] = script[1:]
	}
	return task.Status{Ledger: step}, nil
}

func (f *fakeNetwork) FetchSealedResult(ctx context.Context, taskID string) (*task.SealedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[taskID]++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.inProgress > 0 {
		f.inProgress--
		return &task.SealedResult{Execution: task.ExecutionInProgress}, nil
	}
	sub, ok := f.subs[taskID]
	if !ok {
		return &task.SealedResult{Execution: task.ExecutionUnset}, nil
	}
	status, plaintext := f.result(sub)
	if status != task.ExecutionSuccess {
		return &task.SealedResult{Execution: status}, nil
	}
	sealed, err := f.keys.Seal(taskID, plaintext)
	if err != nil {
		return nil, err
	}
	return &task.SealedResult{Execution: task.ExecutionSuccess, Output: sealed}, nil
}

func (f *fakeNetwork) queryCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[taskID]
}

// recordingNotifier keeps every event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []task.Progress
}

func (r *recordingNotifier) Notify(ctx context.Context, ev task.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) forTask(taskID string) []task.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []task.Progress
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingNotifier) stages(taskID string) []string {
	var out []string
	for _, ev := range r.forTask(taskID) {
		out = append(out, ev.Stage)
	}
	return out
}

// confirmedRecord builds a record as the poller would return it.
func confirmedRecord(taskID string) *task.Record {
	now := time.Now()
	return &task.Record{
		TaskID:            taskID,
		FunctionSignature: SigListSecretIDs,
		Args:              []task.Arg{task.NewArg(testOwner, "address")},
		ReturnSchema:      "string[]",
		GasLimit:          500000,
		Sender:            testSender,
		TargetContract:    testTarget,
		LedgerStatus:      task.LedgerConfirmed,
		SubmittedAt:       now,
		UpdatedAt:         now,
	}
}

func encodeOutput(t *testing.T, schema string, value any) []byte {
	t.Helper()
	out, err := abi.EncodeValue(schema, value)
	require.NoError(t, err)
	return out
}

func newTestPipeline(t *testing.T, net *fakeNetwork, notifier Notifier, opts ...func(*PipelineConfig)) *Pipeline {
	t.Helper()
	cfg := PipelineConfig{
		Codec:        abi.Codec{},
		Ledger:       net,
		Ingress:      net,
		Status:       net,
		Results:      net,
		Keys:         net.keys,
		Notifier:     notifier,
		PollInterval: time.Millisecond,
		MaxWait:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	return p
}

func listRequest(owner string) Request {
	return Request{
		FunctionSignature: SigListSecretIDs,
		Args:              []task.Arg{task.NewArg(owner, "address")},
		ReturnSchema:      "string[]",
		GasLimit:          500000,
		GasPrice:          1,
		Sender:            testSender,
		TargetContract:    testTarget,
	}
}
