package tasks

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// Request describes one task invocation.
type Request struct {
	FunctionSignature string     `json:"function_signature"`
	Args              []task.Arg `json:"args"`
	// ReturnSchema is the type tag of the decrypted output; empty for none.
	ReturnSchema   string `json:"return_schema,omitempty"`
	GasLimit       uint64 `json:"gas_limit"`
	GasPrice       uint64 `json:"gas_price"`
	Sender         string `json:"sender"`
	TargetContract string `json:"target_contract"`
}

// Draft is an encoded request awaiting submission.
type Draft struct {
	Request
	Encoded *abi.Encoded
}

// Encode turns a request into a submission draft. It has no side effects.
func Encode(enc Encoder, req Request) (*Draft, error) {
	encoded, err := enc.Encode(req.FunctionSignature, req.Args)
	if err != nil {
		return nil, err
	}
	if req.Args != nil {
		args := make([]task.Arg, len(req.Args))
		copy(args, req.Args)
		req.Args = args
	}
	return &Draft{Request: req, Encoded: encoded}, nil
}

// ComputeTaskID derives the task identity from the payload fingerprint, the
// sender and the sender's ledger nonce.
func ComputeTaskID(fingerprint string, sender []byte, nonce uint64) (string, error) {
	fp, err := hex.DecodeString(strings.TrimPrefix(fingerprint, "0x"))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return "0x" + hex.EncodeToString(abi.Keccak256(fp, sender, n[:])), nil
}

// SigningDigest is the hash a submitter signs for a task.
func SigningDigest(taskID, fingerprint string) []byte {
	return abi.Keccak256([]byte(taskID), []byte(fingerprint))
}

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	Ledger  Ledger
	Ingress Ingress
	// SignerKey, when set, signs every submission. Its address must be the sender.
	SignerKey *keys.PrivateKey
	Notifier  Notifier
	Logger    *logging.Logger
	Clock     Clock
}

// Submitter anchors encoded tasks on the ledger and hands them to the
// compute network. Submissions are never retried.
type Submitter struct {
	ledger   Ledger
	ingress  Ingress
	signer   *keys.PrivateKey
	notifier Notifier
	log      *logging.Logger
	clock    Clock
}

// NewSubmitter creates a submitter.
func NewSubmitter(cfg SubmitterConfig) (*Submitter, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if cfg.Ingress == nil {
		return nil, fmt.Errorf("compute ingress required")
	}
	s := &Submitter{
		ledger:   cfg.Ledger,
		ingress:  cfg.Ingress,
		signer:   cfg.SignerKey,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		clock:    cfg.Clock,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.log == nil {
		s.log = logging.NewDiscard()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// Submit anchors the draft on the ledger, then delivers it to the compute
// ingress. The returned record is in RecordCreated.
//
// If the ingress fails after the ledger accepted the record, the error is a
// SubmissionError naming the task id and carrying the created record.
func (s *Submitter) Submit(ctx context.Context, d *Draft) (*task.Record, error) {
	if d == nil || d.Encoded == nil {
		return nil, task.NewSubmissionError("", "draft is not encoded", nil)
	}
	if d.GasLimit == 0 {
		return nil, task.NewSubmissionError("", "gas limit must be positive", nil)
	}
	senderRaw, err := abi.ParseAddress(d.Sender)
	if err != nil {
		return nil, task.NewSubmissionError("", "invalid sender", err)
	}
	targetRaw, err := abi.ParseAddress(d.TargetContract)
	if err != nil {
		return nil, task.NewSubmissionError("", "invalid target contract", err)
	}
	sender := abi.FormatAddress(senderRaw)
	target := abi.FormatAddress(targetRaw)

	if s.signer != nil {
		if signerAddr := "0x" + s.signer.GetScriptHash().StringLE(); signerAddr != sender {
			return nil, task.NewSubmissionError("", fmt.Sprintf("signing key belongs to %s, not sender %s", signerAddr, sender), nil)
		}
	}

	nonce, err := s.ledger.NextNonce(ctx, sender)
	if err != nil {
		return nil, task.NewSubmissionError("", "fetch sender nonce", err)
	}

	taskID, err := ComputeTaskID(d.Encoded.Fingerprint, senderRaw, nonce)
	if err != nil {
		return nil, task.NewSubmissionError("", "derive task id", err)
	}

	sub := task.Submission{
		TaskID:         taskID,
		Payload:        d.Encoded.Payload,
		Fingerprint:    d.Encoded.Fingerprint,
		GasLimit:       d.GasLimit,
		GasPrice:       d.GasPrice,
		Sender:         sender,
		TargetContract: target,
		Nonce:          nonce,
	}
	if s.signer != nil {
		digest, err := util.Uint256DecodeBytesBE(SigningDigest(taskID, sub.Fingerprint))
		if err != nil {
			return nil, task.NewSubmissionError(taskID, "build signing digest", err)
		}
		sub.Signature = s.signer.SignHash(digest)
		sub.PublicKey = s.signer.PublicKey().Bytes()
	}

	receipt, err := s.ledger.CreateTaskRecord(ctx, sub)
	if err != nil {
		return nil, task.NewSubmissionError(taskID, "ledger rejected task record", err)
	}

	now := s.clock()
	rec := &task.Record{
		TaskID:            taskID,
		FunctionSignature: d.FunctionSignature,
		Args:              d.Args,
		Payload:           d.Encoded.Payload,
		Fingerprint:       d.Encoded.Fingerprint,
		ReturnSchema:      d.ReturnSchema,
		GasLimit:          d.GasLimit,
		GasPrice:          d.GasPrice,
		Sender:            sender,
		TargetContract:    target,
		Nonce:             nonce,
		TxHash:            receipt.TxHash,
		LedgerStatus:      task.LedgerRecordCreated,
		SubmittedAt:       now,
		UpdatedAt:         now,
	}
	rec = rec.Clone()

	if err := s.ingress.SendTaskInput(ctx, sub); err != nil {
		serr := task.NewSubmissionError(taskID, "compute ingress rejected task after ledger acceptance", err)
		serr.Last = rec
		s.log.WithTask(ctx, taskID).WithError(err).Error("task anchored but not delivered")
		return nil, serr
	}

	s.log.WithTask(ctx, taskID).WithField("tx_hash", receipt.TxHash).Info("task submitted")
	s.notifier.Notify(ctx, task.Progress{
		TaskID: taskID,
		Stage:  task.StageSubmitted,
		Ledger: rec.LedgerStatus,
		At:     now,
	})
	return rec, nil
}
