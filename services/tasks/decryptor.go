package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// Decryptor opens sealed results and decodes them against the record's
// return schema. It performs no I/O.
type Decryptor struct {
	keys     Decrypter
	codec    Encoder
	notifier Notifier
	log      *logging.Logger
	clock    Clock
}

// NewDecryptor creates a decryptor.
func NewDecryptor(keys Decrypter, codec Encoder, notifier Notifier, log *logging.Logger, clock Clock) (*Decryptor, error) {
	if keys == nil {
		return nil, fmt.Errorf("decrypter required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec required")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logging.NewDiscard()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Decryptor{keys: keys, codec: codec, notifier: notifier, log: log, clock: clock}, nil
}

// Decrypt opens the sealed output of a successful record and populates its
// plaintext and decoded output.
func (d *Decryptor) Decrypt(ctx context.Context, rec *task.Record) (*task.Record, error) {
	if rec == nil {
		return nil, task.NewInvalidStateError("decrypt", "", "nil record")
	}
	if rec.ExecutionStatus != task.ExecutionSuccess {
		return nil, task.NewInvalidStateError("decrypt", rec.TaskID,
			fmt.Sprintf("execution status is %s, decryption requires success", rec.ExecutionStatus))
	}
	if !rec.HasSealedOutput() {
		return nil, task.NewInvalidStateError("decrypt", rec.TaskID, "no sealed output")
	}

	plaintext, err := d.keys.Decrypt(rec.TaskID, rec.SealedOutput)
	if err != nil {
		d.log.WithTask(ctx, rec.TaskID).WithError(err).Error("decryption failed")
		return nil, task.NewDecryptionError(rec.TaskID, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}

	output, err := d.codec.DecodeOutput(rec.ReturnSchema, plaintext)
	if err != nil {
		d.log.WithTask(ctx, rec.TaskID).WithError(err).Error("decoding failed")
		return nil, task.NewDecodingError(rec.TaskID, fmt.Sprintf("plaintext does not match return schema %q", rec.ReturnSchema), err)
	}

	out := rec.Clone()
	out.PlaintextOutput = append([]byte{}, plaintext...)
	out.Output = output
	out.UpdatedAt = d.clock()

	d.log.WithTask(ctx, rec.TaskID).Info("result decrypted")
	d.notifier.Notify(ctx, task.Progress{
		TaskID:    out.TaskID,
		Stage:     task.StageDecrypted,
		Ledger:    out.LedgerStatus,
		Execution: out.ExecutionStatus,
		At:        out.UpdatedAt,
	})
	return out, nil
}
