// Package simulation provides an in-process confidential compute network for
// running the task lifecycle without a ledger node or TEE hardware.
package simulation

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// Enclave limits.
const (
	MaxScriptSize  = 1 << 20
	DefaultTimeout = 5 * time.Second
)

// Enclave runs a contract script in a goja runtime. Contract state lives in
// the script's globals and persists between calls.
type Enclave struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	timeout time.Duration
	log     *logging.Logger
}

// NewEnclave loads script into a fresh runtime.
func NewEnclave(script string, log *logging.Logger) (*Enclave, error) {
	if len(script) > MaxScriptSize {
		return nil, fmt.Errorf("script exceeds maximum size of %d bytes", MaxScriptSize)
	}
	if log == nil {
		log = logging.NewDiscard()
	}

	vm := goja.New()
	e := &Enclave{vm: vm, timeout: DefaultTimeout, log: log}

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		e.log.WithField("source", "enclave").Debug(fmt.Sprint(args...))
		return goja.Undefined()
	})
	vm.Set("console", console)
	vm.Set("uuid", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(uuid.NewString())
	})

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}
	return e, nil
}

// SetTimeout bounds the run time of a single call.
func (e *Enclave) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.timeout = d
	}
}

// Has reports whether the script defines entryPoint as a function.
func (e *Enclave) Has(entryPoint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := goja.AssertFunction(e.vm.Get(entryPoint))
	return ok
}

// Execute calls entryPoint with args. A thrown exception or a timeout is an
// error; a null or undefined result is nil.
func (e *Enclave) Execute(ctx context.Context, entryPoint string, args []any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entryFn, ok := goja.AssertFunction(e.vm.Get(entryPoint))
	if !ok {
		return nil, fmt.Errorf("entry point '%s' is not a function", entryPoint)
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	// A late interrupt from a previous call must not abort this one.
	e.vm.ClearInterrupt()
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			e.vm.Interrupt("execution timeout")
		case <-ctx.Done():
			e.vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	defer close(done)

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = e.vm.ToValue(jsValue(arg))
	}

	result, err := entryFn(goja.Undefined(), values...)
	if err != nil {
		return nil, fmt.Errorf("execution error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// jsValue maps decoded task arguments onto values a script handles natively.
func jsValue(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case []byte:
		return "0x" + hex.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsValue(e)
		}
		return out
	default:
		return v
	}
}
