// Package task defines the confidential compute task record and its lifecycle states.
package task

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Ledger Status
// =============================================================================

// LedgerStatus is the on-chain anchoring state of a task record.
// Transitions are strictly forward: Unknown -> RecordCreated -> Confirmed,
// with Failed reachable from any non-terminal state.
type LedgerStatus int

const (
	LedgerUnknown LedgerStatus = iota
	LedgerRecordCreated
	LedgerConfirmed
	LedgerFailed
)

// Raw status codes reported by the task registry contract.
const (
	CodeUndefined        int64 = 0
	CodeRecordCreated    int64 = 1
	CodeReceiptVerified  int64 = 2
	CodeReceiptFailed    int64 = 3
	CodeLedgerFailed     int64 = 4
	CodePreprocessFailed int64 = 5
)

// LedgerStatusFromCode maps a registry status code onto a LedgerStatus.
// Codes outside the known enumeration are reported as Unknown.
func LedgerStatusFromCode(code int64) LedgerStatus {
	switch code {
	case CodeRecordCreated:
		return LedgerRecordCreated
	case CodeReceiptVerified:
		return LedgerConfirmed
	case CodeReceiptFailed, CodeLedgerFailed, CodePreprocessFailed:
		return LedgerFailed
	default:
		return LedgerUnknown
	}
}

func (s LedgerStatus) String() string {
	switch s {
	case LedgerRecordCreated:
		return "record_created"
	case LedgerConfirmed:
		return "confirmed"
	case LedgerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further ledger transition can happen.
func (s LedgerStatus) IsTerminal() bool {
	return s == LedgerConfirmed || s == LedgerFailed
}

// CanTransition reports whether next is a legal successor of s.
// Staying in the same state is always allowed; skipping forward is allowed.
func (s LedgerStatus) CanTransition(next LedgerStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == LedgerFailed {
		return true
	}
	return next > s
}

// MarshalText implements encoding.TextMarshaler.
func (s LedgerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LedgerStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "unknown", "":
		*s = LedgerUnknown
	case "record_created":
		*s = LedgerRecordCreated
	case "confirmed":
		*s = LedgerConfirmed
	case "failed":
		*s = LedgerFailed
	default:
		return fmt.Errorf("unknown ledger status %q", text)
	}
	return nil
}

// =============================================================================
// Execution Status
// =============================================================================

// ExecutionStatus is the off-chain outcome of the confidential computation.
// It is only set once the ledger has confirmed the task.
type ExecutionStatus int

const (
	ExecutionUnset ExecutionStatus = iota
	ExecutionInProgress
	ExecutionSuccess
	ExecutionFailure
)

// ExecutionStatusFromString maps a worker status string onto an ExecutionStatus.
func ExecutionStatusFromString(raw string) ExecutionStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS":
		return ExecutionSuccess
	case "FAILED", "FAILURE":
		return ExecutionFailure
	case "INPROGRESS", "IN_PROGRESS":
		return ExecutionInProgress
	default:
		return ExecutionUnset
	}
}

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionInProgress:
		return "in_progress"
	case ExecutionSuccess:
		return "success"
	case ExecutionFailure:
		return "failure"
	default:
		return "unset"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ExecutionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExecutionStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "unset", "":
		*s = ExecutionUnset
	case "in_progress":
		*s = ExecutionInProgress
	case "success":
		*s = ExecutionSuccess
	case "failure":
		*s = ExecutionFailure
	default:
		return fmt.Errorf("unknown execution status %q", text)
	}
	return nil
}

// =============================================================================
// Record
// =============================================================================

// Arg is one (value, type-tag) pair of a task invocation.
type Arg struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// NewArg builds an Arg.
func NewArg(value any, typ string) Arg {
	return Arg{Value: value, Type: typ}
}

// Record is the central lifecycle entity of a task. Stages never mutate a
// record in place; each returns an advanced copy.
type Record struct {
	TaskID            string          `json:"task_id"`
	FunctionSignature string          `json:"function_signature"`
	Args              []Arg           `json:"args"`
	Payload           []byte          `json:"payload,omitempty"`
	Fingerprint       string          `json:"fingerprint"`
	ReturnSchema      string          `json:"return_schema,omitempty"`
	GasLimit          uint64          `json:"gas_limit"`
	GasPrice          uint64          `json:"gas_price"`
	Sender            string          `json:"sender"`
	TargetContract    string          `json:"target_contract"`
	Nonce             uint64          `json:"nonce"`
	TxHash            string          `json:"tx_hash,omitempty"`
	LedgerStatus      LedgerStatus    `json:"ledger_status"`
	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	SealedOutput      []byte          `json:"sealed_output,omitempty"`
	PlaintextOutput   []byte          `json:"-"`
	Output            any             `json:"output,omitempty"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the record's mutable byte and argument slices.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Args != nil {
		cp.Args = make([]Arg, len(r.Args))
		copy(cp.Args, r.Args)
	}
	cp.Payload = cloneBytes(r.Payload)
	cp.SealedOutput = cloneBytes(r.SealedOutput)
	cp.PlaintextOutput = cloneBytes(r.PlaintextOutput)
	return &cp
}

// HasSealedOutput reports whether a sealed result is attached.
func (r *Record) HasSealedOutput() bool {
	return r.SealedOutput != nil
}

// HasPlaintext reports whether the record carries a decrypted result.
func (r *Record) HasPlaintext() bool {
	return r.PlaintextOutput != nil
}

// AdvanceLedger moves the record's ledger status to next.
func (r *Record) AdvanceLedger(next LedgerStatus, now time.Time) error {
	if !r.LedgerStatus.CanTransition(next) {
		return NewInvalidStateError("advance_ledger", r.TaskID,
			fmt.Sprintf("illegal ledger transition %s -> %s", r.LedgerStatus, next))
	}
	if r.LedgerStatus != next {
		r.LedgerStatus = next
		r.UpdatedAt = now
	}
	return nil
}

// Validate checks the cross-field invariants of the record.
func (r *Record) Validate() error {
	if r.ExecutionStatus != ExecutionUnset && r.LedgerStatus != LedgerConfirmed {
		return NewInvalidStateError("validate", r.TaskID, "execution status set before ledger confirmation")
	}
	if r.HasSealedOutput() && r.ExecutionStatus == ExecutionUnset {
		return NewInvalidStateError("validate", r.TaskID, "sealed output present without execution status")
	}
	if r.HasPlaintext() && (!r.HasSealedOutput() || r.ExecutionStatus != ExecutionSuccess) {
		return NewInvalidStateError("validate", r.TaskID, "plaintext present without successful sealed output")
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
