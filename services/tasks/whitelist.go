package tasks

import (
	"context"
	"fmt"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// Secret whitelist contract functions.
const (
	SigAddSecret     = "add_secret_for_testator(address,string,string)"
	SigRemoveSecret  = "remove_secret_for_testator(address,string)"
	SigListSecretIDs = "get_current_secret_ids_for_testator(address)"
)

// Whitelist issues secret whitelist tasks through a pipeline. What the
// contract does with them is up to the contract.
type Whitelist struct {
	pipeline *Pipeline
	base     Request
}

// NewWhitelist creates a helper. base supplies gas, sender and the target
// contract; its signature and args are ignored.
func NewWhitelist(p *Pipeline, base Request) *Whitelist {
	base.FunctionSignature = ""
	base.Args = nil
	base.ReturnSchema = ""
	return &Whitelist{pipeline: p, base: base}
}

func (w *Whitelist) request(sig, schema string, args ...task.Arg) Request {
	req := w.base
	req.FunctionSignature = sig
	req.Args = args
	req.ReturnSchema = schema
	return req
}

// AddSecret stores a named secret for owner.
func (w *Whitelist) AddSecret(ctx context.Context, owner, name, content string) (*task.Record, error) {
	return w.pipeline.Run(ctx, w.request(SigAddSecret, "",
		task.NewArg(owner, "address"),
		task.NewArg(name, "string"),
		task.NewArg(content, "string"),
	))
}

// RemoveSecret removes a secret of owner by id.
func (w *Whitelist) RemoveSecret(ctx context.Context, owner, secretID string) (*task.Record, error) {
	return w.pipeline.Run(ctx, w.request(SigRemoveSecret, "",
		task.NewArg(owner, "address"),
		task.NewArg(secretID, "string"),
	))
}

// ListSecretIDs returns the ids of owner's current secrets.
func (w *Whitelist) ListSecretIDs(ctx context.Context, owner string) ([]string, *task.Record, error) {
	rec, err := w.pipeline.Run(ctx, w.request(SigListSecretIDs, "string[]", task.NewArg(owner, "address")))
	if err != nil {
		return nil, rec, err
	}
	ids, ok := rec.Output.([]string)
	if !ok {
		return nil, rec, task.NewDecodingError(rec.TaskID, fmt.Sprintf("expected []string output, got %T", rec.Output), nil)
	}
	return ids, rec, nil
}
