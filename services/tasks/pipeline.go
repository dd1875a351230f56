package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
)

// Journal appends every snapshot a pipeline produces. Implemented by
// history.Journal.
type Journal interface {
	Append(ctx context.Context, rec *task.Record, stage string) error
}

// Defaults of the pipeline wait budgets.
const (
	DefaultMaxWait = 2 * time.Minute
)

// PipelineConfig wires a Pipeline to its collaborators.
type PipelineConfig struct {
	Codec     Encoder
	Ledger    Ledger
	Ingress   Ingress
	Status    StatusQuerier
	Results   ResultFetcher
	Keys      Decrypter
	SignerKey *keys.PrivateKey

	Store    *Store
	Journal  Journal
	Notifier Notifier
	Metrics  metrics.Recorder
	Logger   *logging.Logger
	Limiter  *rate.Limiter
	Clock    Clock

	PollInterval time.Duration
	MaxWait      time.Duration
	// ResultWait bounds how long a confirmed task may stay in progress on the
	// compute network. Defaults to MaxWait.
	ResultWait time.Duration
}

// Pipeline drives requests through encode, submit, confirmation, retrieval
// and decryption, recording every advanced snapshot.
type Pipeline struct {
	codec     Encoder
	submitter *Submitter
	poller    *Poller
	retriever *Retriever
	decryptor *Decryptor

	store   *Store
	journal Journal
	metrics metrics.Recorder
	log     *logging.Logger

	pollInterval time.Duration
	maxWait      time.Duration
	resultWait   time.Duration
}

// NewPipeline builds the lifecycle stages from cfg.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("codec required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoOpCollector()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = cfg.MaxWait
	}

	submitter, err := NewSubmitter(SubmitterConfig{
		Ledger:    cfg.Ledger,
		Ingress:   cfg.Ingress,
		SignerKey: cfg.SignerKey,
		Notifier:  cfg.Notifier,
		Logger:    cfg.Logger,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("submitter: %w", err)
	}
	poller, err := NewPoller(PollerConfig{
		Status:   cfg.Status,
		Notifier: cfg.Notifier,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Clock:    cfg.Clock,
		Limiter:  cfg.Limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}
	retriever, err := NewRetriever(cfg.Results, cfg.Notifier, cfg.Logger, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	decryptor, err := NewDecryptor(cfg.Keys, cfg.Codec, cfg.Notifier, cfg.Logger, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("decryptor: %w", err)
	}

	return &Pipeline{
		codec:        cfg.Codec,
		submitter:    submitter,
		poller:       poller,
		retriever:    retriever,
		decryptor:    decryptor,
		store:        cfg.Store,
		journal:      cfg.Journal,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		resultWait:   cfg.ResultWait,
	}, nil
}

// Store returns the snapshot store the pipeline writes to.
func (p *Pipeline) Store() *Store {
	return p.store
}

// Run drives one request to a decrypted result.
//
// On failure the returned record is the last snapshot reached, or nil when
// nothing was anchored. A confidential execution failure returns the
// retrieved record with an error wrapping task.ErrExecutionFailed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*task.Record, error) {
	if logging.TraceIDFromContext(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}
	p.metrics.RecordInFlight(1)
	defer p.metrics.RecordInFlight(-1)

	rec, err := p.run(ctx, req)
	p.metrics.RecordOutcome(Outcome(err))
	return rec, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*task.Record, error) {
	start := time.Now()
	draft, err := Encode(p.codec, req)
	p.metrics.RecordStage("encode", time.Since(start), err)
	if err != nil {
		p.log.WithContext(ctx).WithError(err).Warn("task encoding failed")
		return nil, err
	}

	start = time.Now()
	rec, err := p.submitter.Submit(ctx, draft)
	p.metrics.RecordStage("submit", time.Since(start), err)
	if err != nil {
		if last, ok := task.LastRecord(err); ok {
			p.save(ctx, last, task.StageSubmitted)
			return last, err
		}
		return nil, err
	}
	p.save(ctx, rec, task.StageSubmitted)

	start = time.Now()
	polled, err := p.poller.AwaitConfirmation(ctx, rec, p.pollInterval, p.maxWait)
	p.metrics.RecordStage("poll", time.Since(start), err)
	if polled != nil {
		rec = polled
		stage := task.StageConfirmed
		if rec.LedgerStatus == task.LedgerFailed {
			stage = task.StageFailed
		} else if rec.LedgerStatus != task.LedgerConfirmed {
			stage = task.StagePolling
		}
		p.save(ctx, rec, stage)
	}
	if err != nil {
		return rec, err
	}

	start = time.Now()
	retrieved, err := p.awaitResult(ctx, rec)
	p.metrics.RecordStage("retrieve", time.Since(start), err)
	if err != nil {
		if last, ok := task.LastRecord(err); ok {
			return last, err
		}
		return rec, err
	}
	rec = retrieved
	p.save(ctx, rec, task.StageRetrieved)
	if rec.ExecutionStatus == task.ExecutionFailure {
		return rec, task.NewExecutionFailedError(rec)
	}

	start = time.Now()
	decrypted, err := p.decryptor.Decrypt(ctx, rec)
	p.metrics.RecordStage("decrypt", time.Since(start), err)
	if err != nil {
		return rec, err
	}
	p.save(ctx, decrypted, task.StageDecrypted)
	return decrypted, nil
}

// awaitResult fetches until the compute network reports Success or Failure,
// bounded by the result wait budget.
func (p *Pipeline) awaitResult(ctx context.Context, rec *task.Record) (*task.Record, error) {
	deadline := time.NewTimer(p.resultWait)
	defer deadline.Stop()

	for {
		out, err := p.retriever.FetchResult(ctx, rec)
		if err != nil {
			return nil, err
		}
		if out.ExecutionStatus == task.ExecutionSuccess || out.ExecutionStatus == task.ExecutionFailure {
			return out, nil
		}

		wait := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, task.NewCancelledError("await_result", out, ctx.Err())
		case <-deadline.C:
			wait.Stop()
			terr := task.NewPollTimeoutError(out, fmt.Sprintf("no execution result within %s", p.resultWait))
			terr.Op = "await_result"
			return nil, terr
		case <-wait.C:
		}
	}
}

func (p *Pipeline) save(ctx context.Context, rec *task.Record, stage string) {
	if err := p.store.Put(rec); err != nil {
		p.log.WithTask(ctx, rec.TaskID).WithError(err).Warn("store rejected snapshot")
	}
	p.metrics.RecordStoreSize(p.store.Len())
	if p.journal == nil {
		return
	}
	if err := p.journal.Append(ctx, rec, stage); err != nil {
		p.log.WithTask(ctx, rec.TaskID).WithError(err).Warn("journal append failed")
	}
}

// Result is the outcome of one request of RunAll.
type Result struct {
	Record *task.Record
	Err    error
}

// RunAll runs independent pipelines concurrently. Results are positional;
// one failure never cancels or alters the others.
func (p *Pipeline) RunAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := p.Run(ctx, req)
			results[i] = Result{Record: rec, Err: err}
		}()
	}
	wg.Wait()
	return results
}

// Outcome classifies a pipeline error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "decrypted"
	case task.IsExecutionFailed(err):
		return "execution_failed"
	case task.IsLedgerFailed(err):
		return "ledger_failed"
	case task.IsPollTimeout(err):
		return "timeout"
	case task.IsCancelled(err):
		return "cancelled"
	case task.IsEncodingError(err):
		return "encoding_error"
	case task.IsSubmissionError(err):
		return "submission_error"
	case task.IsRetrievalError(err):
		return "retrieval_error"
	case task.IsDecryptionError(err):
		return "decryption_error"
	case task.IsDecodingError(err):
		return "decoding_error"
	case task.IsInvalidState(err):
		return "invalid_state"
	default:
		return "error"
	}
}
