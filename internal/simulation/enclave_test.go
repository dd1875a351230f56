package simulation

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnclave_StatePersists(t *testing.T) {
	e, err := NewEnclave(`
		var count = 0;
		function incr(by) { count += by; return count; }
	`, nil)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), "incr", []any{big.NewInt(2)})
	require.NoError(t, err)
	out, err := e.Execute(context.Background(), "incr", []any{big.NewInt(3)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, out)
}

func TestEnclave_NullResult(t *testing.T) {
	e, err := NewEnclave(`function nothing() { return null; } function undef() {}`, nil)
	require.NoError(t, err)

	out, err := e.Execute(context.Background(), "nothing", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	out, err = e.Execute(context.Background(), "undef", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEnclave_Errors(t *testing.T) {
	_, err := NewEnclave(`function broken( {`, nil)
	assert.Error(t, err)

	_, err = NewEnclave(strings.Repeat(" ", MaxScriptSize+1), nil)
	assert.Error(t, err)

	e, err := NewEnclave(`function boom() { throw new Error("nope"); }`, nil)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), "boom", nil)
	assert.ErrorContains(t, err, "nope")

	_, err = e.Execute(context.Background(), "missing", nil)
	assert.Error(t, err)
	assert.False(t, e.Has("missing"))
	assert.True(t, e.Has("boom"))
}

func TestEnclave_Timeout(t *testing.T) {
	e, err := NewEnclave(`function spin() { for (;;) {} } function ok() { return 1; }`, nil)
	require.NoError(t, err)
	e.SetTimeout(20 * time.Millisecond)

	_, err = e.Execute(context.Background(), "spin", nil)
	require.Error(t, err)

	out, err := e.Execute(context.Background(), "ok", nil)
	require.NoError(t, err, "runtime is usable after an interrupt")
	assert.EqualValues(t, 1, out)
}

func TestEnclave_Cancelled(t *testing.T) {
	e, err := NewEnclave(`function spin() { for (;;) {} }`, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = e.Execute(ctx, "spin", nil)
	assert.Error(t, err)
}

func TestJSValue(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, int64(7), jsValue(big.NewInt(7)))
	assert.Equal(t, "123456789012345678901234567890", jsValue(huge))
	assert.Equal(t, "0x0102", jsValue([]byte{1, 2}))
	assert.Equal(t, []any{int64(1), "x"}, jsValue([]any{big.NewInt(1), "x"}))
}
