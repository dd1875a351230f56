// Package config loads configuration for the confidential task services.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/confidential_tasks/internal/crypto"
)

// Execution modes of the confidential environment.
const (
	ModeSimulation = "SW"
	ModeHardware   = "HW"
)

// Config is the full service configuration.
type Config struct {
	Mode      string          `yaml:"sgx_mode" env:"SGX_MODE"`
	Chain     ChainConfig     `yaml:"chain"`
	Compute   ComputeConfig   `yaml:"compute"`
	Contracts ContractsConfig `yaml:"contracts"`
	Task      TaskConfig      `yaml:"task"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// ChainConfig configures the anchoring ledger RPC client.
type ChainConfig struct {
	RPCURL    string        `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	NetworkID uint32        `yaml:"network_id" env:"CHAIN_NETWORK_ID"`
	Timeout   time.Duration `yaml:"timeout" env:"CHAIN_RPC_TIMEOUT"`
	RateLimit float64       `yaml:"rate_limit" env:"RPC_RATE_LIMIT"`
}

// ComputeConfig configures the compute network worker client.
type ComputeConfig struct {
	WorkerURL string        `yaml:"worker_url" env:"COMPUTE_WORKER_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"COMPUTE_TIMEOUT"`
}

// ContractsConfig holds the deployed contract hashes.
type ContractsConfig struct {
	TaskRegistry    string `yaml:"task_registry" env:"CONTRACT_TASK_REGISTRY_HASH"`
	Token           string `yaml:"token" env:"CONTRACT_TOKEN_HASH"`
	SecretWhitelist string `yaml:"secret_whitelist" env:"CONTRACT_SECRET_WHITELIST_HASH"`
}

// TaskConfig holds lifecycle defaults.
type TaskConfig struct {
	GasLimit     uint64        `yaml:"gas_limit" env:"TASK_GAS_LIMIT"`
	GasPrice     uint64        `yaml:"gas_price" env:"TASK_GAS_PRICE"`
	PollInterval time.Duration `yaml:"poll_interval" env:"TASK_POLL_INTERVAL"`
	MaxWait      time.Duration `yaml:"max_wait" env:"TASK_MAX_WAIT"`
	MasterKeyHex string        `yaml:"master_key" env:"TASK_MASTER_KEY"`
	SenderKeyHex string        `yaml:"sender_key" env:"TASK_SENDER_KEY"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// StorageConfig configures optional persistence and notification backends.
type StorageConfig struct {
	RedisURL         string        `yaml:"redis_url" env:"REDIS_URL"`
	RedisChannel     string        `yaml:"redis_channel" env:"REDIS_CHANNEL"`
	Retention        time.Duration `yaml:"retention" env:"STORE_RETENTION"`
	PruneSchedule    string        `yaml:"prune_schedule" env:"STORE_PRUNE_SCHEDULE"`
	// HistoryRetention bounds how long journaled events are kept; 0 keeps them.
	HistoryRetention time.Duration `yaml:"history_retention" env:"HISTORY_RETENTION"`
}

// DatabaseConfig configures the optional task history database. History is
// disabled when DSN is empty.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// HTTPConfig configures the read-only HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR"`
	// CORSOrigins lists allowed origins; "*" allows any. Semicolon separated
	// in the environment.
	CORSOrigins []string `yaml:"cors_origins" env:"HTTP_CORS_ORIGINS"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit int `yaml:"rate_limit" env:"HTTP_RATE_LIMIT"`
	RateBurst int `yaml:"rate_burst" env:"HTTP_RATE_BURST"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Mode: ModeSimulation,
		Chain: ChainConfig{
			Timeout:   30 * time.Second,
			RateLimit: 20,
		},
		Compute: ComputeConfig{
			WorkerURL: "http://localhost:3346",
			Timeout:   30 * time.Second,
		},
		Task: TaskConfig{
			GasLimit:     500000,
			GasPrice:     1,
			PollInterval: time.Second,
			MaxWait:      2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			RedisChannel:     "task_progress",
			Retention:        time.Hour,
			PruneSchedule:    "@every 1m",
			HistoryRetention: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			Migrate:         true,
		},
		HTTP: HTTPConfig{
			Addr:        ":8090",
			CORSOrigins: []string{"*"},
			RateLimit:   50,
			RateBurst:   100,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file in the working directory (if present) and the
// process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	cfg.Mode = strings.ToUpper(strings.TrimSpace(cfg.Mode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSimulation, ModeHardware:
	default:
		return fmt.Errorf("sgx_mode must be %s or %s, got %q", ModeSimulation, ModeHardware, c.Mode)
	}

	if c.Mode == ModeHardware {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url is required in %s mode", ModeHardware)
		}
		if c.Compute.WorkerURL == "" {
			return fmt.Errorf("compute.worker_url is required in %s mode", ModeHardware)
		}
		if c.Contracts.TaskRegistry == "" {
			return fmt.Errorf("contracts.task_registry is required in %s mode", ModeHardware)
		}
	}

	if c.Task.GasLimit == 0 {
		return fmt.Errorf("task.gas_limit must be positive")
	}
	if c.Task.PollInterval <= 0 {
		return fmt.Errorf("task.poll_interval must be positive")
	}
	if c.Task.MaxWait < 0 {
		return fmt.Errorf("task.max_wait must not be negative")
	}
	if c.Task.MasterKeyHex != "" {
		if _, err := crypto.ParseKeyHex(c.Task.MasterKeyHex); err != nil {
			return fmt.Errorf("task.master_key: %w", err)
		}
	}
	if c.Chain.RateLimit < 0 {
		return fmt.Errorf("chain.rate_limit must not be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	return nil
}

// IsSimulation reports whether the simulated confidential environment is selected.
func (c *Config) IsSimulation() bool {
	return c.Mode == ModeSimulation
}

// MasterKey decodes the configured result master key, or nil when unset.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Task.MasterKeyHex == "" {
		return nil, nil
	}
	return crypto.ParseKeyHex(c.Task.MasterKeyHex)
}
