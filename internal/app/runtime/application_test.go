package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/config"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
)

func TestParseSenderKey(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"wif", priv.WIF(), true},
		{"hex", priv.String(), true},
		{"hex-0x", "0x" + priv.String(), true},
		{"empty", "  ", false},
		{"garbage", "zzzz", false},
		{"short-hex", "0102", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := parseSenderKey(tt.input)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, priv.GetScriptHash(), key.GetScriptHash())
		})
	}
}

func simulationConfig() *config.Config {
	cfg := config.Default()
	cfg.Task.PollInterval = time.Millisecond
	cfg.Task.MaxWait = 5 * time.Second
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func TestNew_SimulationScenario(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, simulationConfig(), logging.NewDiscard())
	require.NoError(t, err)
	defer app.Close()

	wl, err := app.Whitelist()
	require.NoError(t, err)

	owner := "0x" + strings.Repeat("11", 20)
	rec, err := wl.AddSecret(ctx, owner, "name1", "content1")
	require.NoError(t, err)
	assert.Equal(t, task.ExecutionSuccess, rec.ExecutionStatus)

	ids, _, err := wl.ListSecretIDs(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	// Snapshots of both tasks are served by the API.
	resp := httptest.NewRecorder()
	app.API.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/tasks/"+rec.TaskID, nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	app.API.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, resp.Body.String(), `tasks_outcomes_total{outcome="decrypted"} 2`)
}

func TestNew_SimulationUsesConfiguredKeys(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	cfg := simulationConfig()
	cfg.Task.MasterKeyHex = strings.Repeat("ab", 32)
	cfg.Task.SenderKeyHex = priv.WIF()

	app, err := New(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer app.Close()

	rec, err := mustWhitelist(t, app).AddSecret(context.Background(), "0x"+strings.Repeat("22", 20), "n", "c")
	require.NoError(t, err)
	assert.Equal(t, "0x"+priv.GetScriptHash().StringLE(), rec.Sender)
}

func mustWhitelist(t *testing.T, app *Application) *tasks.Whitelist {
	t.Helper()
	wl, err := app.Whitelist()
	require.NoError(t, err)
	return wl
}

func TestNew_HardwareRequiresMasterKey(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeHardware
	cfg.Chain.RPCURL = "http://127.0.0.1:1"
	cfg.Contracts.TaskRegistry = "0x" + strings.Repeat("11", 20)

	_, err := New(context.Background(), cfg, logging.NewDiscard())
	assert.ErrorContains(t, err, "master_key")
}

func TestNew_HardwareWithoutWhitelist(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeHardware
	cfg.Chain.RPCURL = "http://127.0.0.1:1"
	cfg.Contracts.TaskRegistry = "0x" + strings.Repeat("11", 20)
	cfg.Task.MasterKeyHex = strings.Repeat("ab", 32)

	app, err := New(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Whitelist()
	assert.ErrorIs(t, err, ErrNoWhitelist)
}

func TestNew_BadSenderKey(t *testing.T) {
	cfg := simulationConfig()
	cfg.Task.SenderKeyHex = "not a key"
	_, err := New(context.Background(), cfg, logging.NewDiscard())
	assert.ErrorContains(t, err, "sender_key")
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, err := New(context.Background(), simulationConfig(), logging.NewDiscard())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
