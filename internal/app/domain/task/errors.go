package task

import (
	"errors"
	"fmt"
)

// Error kinds of the task lifecycle.
var (
	ErrEncoding        = errors.New("encoding error")
	ErrSubmission      = errors.New("submission error")
	ErrPollTimeout     = errors.New("poll timeout")
	ErrInvalidState    = errors.New("invalid state")
	ErrRetrieval       = errors.New("retrieval error")
	ErrDecryption      = errors.New("decryption error")
	ErrDecoding        = errors.New("decoding error")
	ErrCancelled       = errors.New("cancelled")
	ErrLedgerFailed    = errors.New("ledger reported task failure")
	ErrExecutionFailed = errors.New("confidential execution failed")
)

// Error is a lifecycle failure. Kind is one of the Err* sentinels; Err is the
// underlying cause, if any. Last holds the last observed record for kinds
// where the caller may resume (poll timeout, cancellation, ledger failure).
type Error struct {
	Kind   error
	Op     string
	TaskID string
	Msg    string
	Err    error
	Last   *Record
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.TaskID != "" {
		msg += fmt.Sprintf(" (task %s)", e.TaskID)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewEncodingError reports input that cannot be represented as its declared type.
func NewEncodingError(msg string, cause error) *Error {
	return &Error{Kind: ErrEncoding, Op: "encode", Msg: msg, Err: cause}
}

// NewSubmissionError reports a ledger or network rejection at submit time.
func NewSubmissionError(taskID, msg string, cause error) *Error {
	return &Error{Kind: ErrSubmission, Op: "submit", TaskID: taskID, Msg: msg, Err: cause}
}

// NewPollTimeoutError reports an exceeded wait budget with the last observed record.
func NewPollTimeoutError(last *Record, msg string) *Error {
	return &Error{Kind: ErrPollTimeout, Op: "await_confirmation", TaskID: idOf(last), Msg: msg, Last: last}
}

// NewCancelledError reports a caller cancellation with the last observed record.
func NewCancelledError(op string, last *Record, cause error) *Error {
	return &Error{Kind: ErrCancelled, Op: op, TaskID: idOf(last), Err: cause, Last: last}
}

// NewLedgerFailedError reports a terminal ledger failure; last is the Failed record.
func NewLedgerFailedError(last *Record) *Error {
	return &Error{Kind: ErrLedgerFailed, Op: "await_confirmation", TaskID: idOf(last), Last: last}
}

// NewExecutionFailedError reports a business-logic failure inside the confidential execution.
func NewExecutionFailedError(last *Record) *Error {
	return &Error{Kind: ErrExecutionFailed, Op: "fetch_result", TaskID: idOf(last), Last: last}
}

// NewInvalidStateError reports an operation attempted out of precondition order.
func NewInvalidStateError(op, taskID, msg string) *Error {
	return &Error{Kind: ErrInvalidState, Op: op, TaskID: taskID, Msg: msg}
}

// NewRetrievalError reports a result store that could not be read or returned
// an inconsistent result.
func NewRetrievalError(taskID, msg string, cause error) *Error {
	return &Error{Kind: ErrRetrieval, Op: "fetch_result", TaskID: taskID, Msg: msg, Err: cause}
}

// NewDecryptionError reports a key mismatch or malformed ciphertext.
func NewDecryptionError(taskID string, cause error) *Error {
	return &Error{Kind: ErrDecryption, Op: "decrypt", TaskID: taskID, Err: cause}
}

// NewDecodingError reports plaintext that does not match the return schema.
func NewDecodingError(taskID, msg string, cause error) *Error {
	return &Error{Kind: ErrDecoding, Op: "decrypt", TaskID: taskID, Msg: msg, Err: cause}
}

// IsEncodingError reports whether err was raised while encoding a request.
func IsEncodingError(err error) bool { return errors.Is(err, ErrEncoding) }

// IsSubmissionError reports whether the ledger or the compute network
// rejected a submission.
func IsSubmissionError(err error) bool { return errors.Is(err, ErrSubmission) }

// IsPollTimeout reports whether polling ran out of its wait budget.
func IsPollTimeout(err error) bool { return errors.Is(err, ErrPollTimeout) }

// IsInvalidState reports whether a stage was applied to a record in the wrong state.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsRetrievalError reports whether fetching the sealed result failed.
func IsRetrievalError(err error) bool { return errors.Is(err, ErrRetrieval) }

// IsDecryptionError reports whether the sealed result could not be opened.
func IsDecryptionError(err error) bool { return errors.Is(err, ErrDecryption) }

// IsDecodingError reports whether plaintext did not match the return schema.
func IsDecodingError(err error) bool { return errors.Is(err, ErrDecoding) }

// IsCancelled reports whether the caller's context ended the lifecycle.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsLedgerFailed reports whether the ledger marked the task failed.
func IsLedgerFailed(err error) bool { return errors.Is(err, ErrLedgerFailed) }

// IsExecutionFailed reports whether the worker reported a failed execution.
func IsExecutionFailed(err error) bool { return errors.Is(err, ErrExecutionFailed) }

// LastRecord extracts the last observed record carried by a lifecycle error.
func LastRecord(err error) (*Record, bool) {
	var e *Error
	if errors.As(err, &e) && e.Last != nil {
		return e.Last, true
	}
	return nil, false
}

func idOf(r *Record) string {
	if r == nil {
		return ""
	}
	return r.TaskID
}
