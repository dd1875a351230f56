package task

import "time"

// Snapshot is the shareable form of a Record. It carries identities and
// lifecycle state only: invocation arguments, the payload and any result,
// sealed or decrypted, are left out.
type Snapshot struct {
	TaskID            string          `json:"task_id"`
	FunctionSignature string          `json:"function_signature"`
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
	ResultSealed      bool            `json:"result_sealed"`
	Decrypted         bool            `json:"decrypted"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Snapshot returns the shareable form of r.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		TaskID:            r.TaskID,
		FunctionSignature: r.FunctionSignature,
		Fingerprint:       r.Fingerprint,
		ReturnSchema:      r.ReturnSchema,
		GasLimit:          r.GasLimit,
		GasPrice:          r.GasPrice,
		Sender:            r.Sender,
		TargetContract:    r.TargetContract,
		Nonce:             r.Nonce,
		TxHash:            r.TxHash,
		LedgerStatus:      r.LedgerStatus,
		ExecutionStatus:   r.ExecutionStatus,
		ResultSealed:      r.HasSealedOutput(),
		Decrypted:         r.HasPlaintext(),
		SubmittedAt:       r.SubmittedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// Finished reports whether no stage can advance the task any further.
func (r *Record) Finished() bool {
	return finished(r.LedgerStatus, r.ExecutionStatus, r.HasPlaintext())
}

// Finished reports whether the task had reached a final state when the
// snapshot was taken.
func (s Snapshot) Finished() bool {
	return finished(s.LedgerStatus, s.ExecutionStatus, s.Decrypted)
}

func finished(ledger LedgerStatus, exec ExecutionStatus, decrypted bool) bool {
	return ledger == LedgerFailed || exec == ExecutionFailure || decrypted
}
