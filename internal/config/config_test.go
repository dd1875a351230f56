package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsSimulation())
	assert.Equal(t, uint64(500000), cfg.Task.GasLimit)
	assert.Equal(t, "http://localhost:3346", cfg.Compute.WorkerURL)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	yamlBody := `
sgx_mode: hw
chain:
  rpc_url: http://chain:10332
contracts:
  task_registry: "0x1111111111111111111111111111111111111111"
task:
  gas_limit: 700000
  poll_interval: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("TASK_MAX_WAIT", "45s")
	t.Setenv("COMPUTE_WORKER_URL", "http://worker:3346")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeHardware, cfg.Mode)
	assert.Equal(t, "http://chain:10332", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(700000), cfg.Task.GasLimit)
	assert.Equal(t, 2*time.Second, cfg.Task.PollInterval)
	assert.Equal(t, 45*time.Second, cfg.Task.MaxWait)
	assert.Equal(t, "http://worker:3346", cfg.Compute.WorkerURL)
	assert.False(t, cfg.IsSimulation())
}

func TestLoad_EnvOverridesMode(t *testing.T) {
	t.Setenv("SGX_MODE", "sw")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeSimulation, cfg.Mode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad mode":           func(c *Config) { c.Mode = "TEE" },
		"hw without rpc":     func(c *Config) { c.Mode = ModeHardware },
		"zero gas":           func(c *Config) { c.Task.GasLimit = 0 },
		"zero poll interval": func(c *Config) { c.Task.PollInterval = 0 },
		"negative max wait":  func(c *Config) { c.Task.MaxWait = -time.Second },
		"bad master key":     func(c *Config) { c.Task.MasterKeyHex = "xyz" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestMasterKey(t *testing.T) {
	cfg := Default()
	key, err := cfg.MasterKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	cfg.Task.MasterKeyHex = strings.Repeat("ab", 32)
	key, err = cfg.MasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoad_HTTPSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
  cors_origins: ["https://app.example.com"]
  rate_limit: 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 5, cfg.HTTP.RateLimit)
	assert.Equal(t, 100, cfg.HTTP.RateBurst)

	cfg.HTTP.RateLimit = -1
	assert.Error(t, cfg.Validate())
}
