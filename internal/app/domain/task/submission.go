package task

import "time"

// Submission is what the ledger and the compute ingress receive for one task.
type Submission struct {
	TaskID         string `json:"task_id"`
	Payload        []byte `json:"payload"`
	Fingerprint    string `json:"fingerprint"`
	GasLimit       uint64 `json:"gas_limit"`
	GasPrice       uint64 `json:"gas_price"`
	Sender         string `json:"sender"`
	TargetContract string `json:"target_contract"`
	Nonce          uint64 `json:"nonce"`
	Signature      []byte `json:"signature,omitempty"`
	PublicKey      []byte `json:"public_key,omitempty"`
}

// Receipt is the ledger's acceptance of a task record.
type Receipt struct {
	TxHash string
	Status LedgerStatus
}

// Status is one reading of a task's ledger and execution state.
type Status struct {
	Ledger    LedgerStatus
	Execution ExecutionStatus
}

// SealedResult is what the compute network's result store returns.
// Output is nil unless Execution is ExecutionSuccess.
type SealedResult struct {
	Execution ExecutionStatus
	Output    []byte
}

// Stage names used in progress notifications.
const (
	StageSubmitted = "submitted"
	StagePolling   = "polling"
	StageConfirmed = "confirmed"
	StageFailed    = "failed"
	StageRetrieved = "retrieved"
	StageDecrypted = "decrypted"
)

// Progress is an observability event emitted as a task advances.
type Progress struct {
	TaskID    string          `json:"task_id"`
	Stage     string          `json:"stage"`
	Tick      int             `json:"tick,omitempty"`
	Ledger    LedgerStatus    `json:"ledger_status"`
	Execution ExecutionStatus `json:"execution_status"`
	Elapsed   time.Duration   `json:"elapsed_ns,omitempty"`
	Err       string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}
