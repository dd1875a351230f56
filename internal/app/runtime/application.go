// Package runtime assembles the task pipeline, its backends and the HTTP
// surface from configuration, and manages their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/internal/chain"
	"github.com/R3E-Network/confidential_tasks/internal/compute"
	"github.com/R3E-Network/confidential_tasks/internal/config"
	"github.com/R3E-Network/confidential_tasks/internal/crypto"
	"github.com/R3E-Network/confidential_tasks/internal/httpapi"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/internal/metrics"
	"github.com/R3E-Network/confidential_tasks/internal/notify"
	"github.com/R3E-Network/confidential_tasks/internal/platform/migrations"
	"github.com/R3E-Network/confidential_tasks/internal/simulation"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
	"github.com/R3E-Network/confidential_tasks/services/tasks/history"
)

// ErrNoWhitelist is returned by Whitelist when no secret whitelist contract
// is configured.
var ErrNoWhitelist = errors.New("secret whitelist contract not configured")

// backend is the ledger and compute network a pipeline talks to.
type backend struct {
	ledger tasks.Ledger
	reader tasks.LedgerStatusReader
	worker tasks.Worker
	// whitelist is the secret whitelist contract address, "" when unknown.
	whitelist string
}

// Application wires the task lifecycle and manages the HTTP server.
type Application struct {
	cfg *config.Config
	log *logging.Logger

	Metrics  *metrics.Collector
	Hub      *notify.Hub
	Gateway  *tasks.Gateway
	Pipeline *tasks.Pipeline
	API      *httpapi.API

	whitelist *tasks.Whitelist
	janitor   *tasks.Janitor
	keys      *crypto.TaskKeyring
	redis     *notify.RedisPublisher
	db        *sqlx.DB
}

// New builds an application from cfg. Redis and the history database are
// only contacted when configured.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.New("tasks", cfg.Log.Level, cfg.Log.Format)
	}
	a := &Application{
		cfg:     cfg,
		log:     log,
		Metrics: metrics.NewCollector("tasks"),
		Hub:     notify.NewHub(log),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	master, err := a.masterKey()
	if err != nil {
		return err
	}
	a.keys, err = crypto.NewTaskKeyring(master)
	crypto.ZeroBytes(master)
	if err != nil {
		return fmt.Errorf("task keyring: %w", err)
	}

	signer, err := a.signerKey()
	if err != nil {
		return err
	}

	notifiers := tasks.MultiNotifier{tasks.NewLogNotifier(a.log), a.Hub}
	if cfg.Storage.RedisURL != "" {
		a.redis, err = notify.NewRedisPublisher(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisChannel, a.log)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		notifiers = append(notifiers, a.redis)
	}

	var journal *history.Journal
	if cfg.Database.DSN != "" {
		if cfg.Database.Migrate {
			if err := migrations.Up(cfg.Database.DSN); err != nil {
				return fmt.Errorf("migrate history database: %w", err)
			}
		}
		a.db, err = history.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		journal = history.New(a.db)
	}

	be, err := a.backend()
	if err != nil {
		return err
	}
	a.Gateway = tasks.NewGateway(be.reader, be.worker)

	pcfg := tasks.PipelineConfig{
		Codec:        abi.Codec{},
		Ledger:       be.ledger,
		Ingress:      a.Gateway,
		Status:       a.Gateway,
		Results:      a.Gateway,
		Keys:         a.keys,
		SignerKey:    signer,
		Notifier:     notifiers,
		Metrics:      a.Metrics,
		Logger:       a.log,
		Limiter:      newLimiter(cfg.Chain.RateLimit),
		PollInterval: cfg.Task.PollInterval,
		MaxWait:      cfg.Task.MaxWait,
	}
	if journal != nil {
		pcfg.Journal = journal
	}
	a.Pipeline, err = tasks.NewPipeline(pcfg)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if be.whitelist != "" && signer != nil {
		a.whitelist = tasks.NewWhitelist(a.Pipeline, tasks.Request{
			GasLimit:       cfg.Task.GasLimit,
			GasPrice:       cfg.Task.GasPrice,
			Sender:         "0x" + signer.GetScriptHash().StringLE(),
			TargetContract: be.whitelist,
		})
	}

	a.janitor, err = tasks.NewJanitor(a.Pipeline.Store(), cfg.Storage.Retention, cfg.Storage.PruneSchedule, a.Metrics, a.log)
	if err != nil {
		return err
	}

	apiCfg := httpapi.Config{
		Store:       a.Pipeline.Store(),
		Hub:         a.Hub,
		Metrics:     a.Metrics,
		Logger:      a.log,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		RateBurst:   cfg.HTTP.RateBurst,
	}
	if journal != nil {
		a.janitor.WithHistory(journal, cfg.Storage.HistoryRetention)
		apiCfg.History = journal
	}
	a.API, err = httpapi.New(apiCfg)
	return err
}

func (a *Application) backend() (backend, error) {
	cfg := a.cfg
	if cfg.IsSimulation() {
		a.log.Warn("SGX_MODE=SW: using the in-process simulated ledger and compute network")
		net, err := simulation.NewSecretWhitelistNetwork(a.keys, a.log)
		if err != nil {
			return backend{}, fmt.Errorf("simulated network: %w", err)
		}
		return backend{ledger: net, reader: net, worker: net, whitelist: simulation.SecretWhitelistAddress}, nil
	}

	limiter := newLimiter(cfg.Chain.RateLimit)
	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.Chain.RPCURL,
		NetworkID: cfg.Chain.NetworkID,
		Timeout:   cfg.Chain.Timeout,
		Limiter:   limiter,
	})
	if err != nil {
		return backend{}, fmt.Errorf("chain client: %w", err)
	}
	contracts, err := chain.ContractAddressesFromConfig(cfg.Contracts)
	if err != nil {
		return backend{}, err
	}
	ledger, err := chain.NewTaskLedger(client, contracts)
	if err != nil {
		return backend{}, err
	}
	worker, err := compute.NewClient(compute.Config{
		WorkerURL: cfg.Compute.WorkerURL,
		Timeout:   cfg.Compute.Timeout,
		Limiter:   limiter,
	})
	if err != nil {
		return backend{}, err
	}
	return backend{ledger: ledger, reader: ledger, worker: worker, whitelist: contracts.SecretWhitelist}, nil
}

// masterKey returns the configured result master key. Simulation generates
// an ephemeral one when none is set.
func (a *Application) masterKey() ([]byte, error) {
	key, err := a.cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	if !a.cfg.IsSimulation() {
		return nil, fmt.Errorf("task.master_key is required in %s mode", config.ModeHardware)
	}
	a.log.Warn("no task master key configured; generated an ephemeral key")
	return crypto.GenerateRandomBytes(crypto.KeySize)
}

// signerKey returns the key task inputs are signed with. Simulation generates
// an ephemeral one when none is set.
func (a *Application) signerKey() (*keys.PrivateKey, error) {
	if raw := a.cfg.Task.SenderKeyHex; raw != "" {
		key, err := parseSenderKey(raw)
		if err != nil {
			return nil, fmt.Errorf("task.sender_key: %w", err)
		}
		return key, nil
	}
	if !a.cfg.IsSimulation() {
		return nil, nil
	}
	return keys.NewPrivateKey()
}

// Whitelist returns the secret whitelist helper.
func (a *Application) Whitelist() (*tasks.Whitelist, error) {
	if a.whitelist == nil {
		return nil, ErrNoWhitelist
	}
	return a.whitelist, nil
}

// Run starts background pruning and serves the HTTP API until ctx is
// cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.janitor.Start()
	defer func() { <-a.janitor.Stop().Done() }()
	return a.API.ListenAndServe(ctx, a.cfg.HTTP.Addr)
}

// Close releases the keyring, redis and database connections.
func (a *Application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.keys != nil {
		a.keys.Close()
	}
}

// newLimiter returns a limiter for rps requests per second, or nil when rps
// is not positive.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), int(rps)+1)
}

// parseSenderKey accepts a WIF or a hex-encoded private key.
func parseSenderKey(value string) (*keys.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("missing sender key")
	}
	if key, err := keys.NewPrivateKeyFromWIF(value); err == nil {
		return key, nil
	}
	key, err := keys.NewPrivateKeyFromHex(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, errors.New("must be a WIF or a 32 byte hex private key")
	}
	return key, nil
}
