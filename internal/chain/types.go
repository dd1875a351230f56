package chain

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// NodeVersion represents Neo node version info.
type NodeVersion struct {
	TCPPort   int    `json:"tcpport"`
	Nonce     int64  `json:"nonce"`
	UserAgent string `json:"useragent"`
	Protocol  struct {
		Network    uint32 `json:"network"`
		MSPerBlock int    `json:"msperblock"`
	} `json:"protocol"`
}

// InvokeResult is the result of invokefunction.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
	Tx          string      `json:"tx,omitempty"`
	Hash        string      `json:"hash,omitempty"`
}

// Halted reports whether the VM finished without a fault.
func (r *InvokeResult) Halted() bool {
	return r.State == "HALT"
}

// StackItem is a Neo VM stack item as rendered by the RPC server.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ContractParam is a contract invocation parameter.
type ContractParam struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Signer is a transaction signer.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

// =============================================================================
// Parameter constructors
// =============================================================================

// NewStringParam creates a String parameter.
func NewStringParam(s string) ContractParam {
	return ContractParam{Type: "String", Value: s}
}

// NewIntegerParam creates an Integer parameter.
func NewIntegerParam(n *big.Int) ContractParam {
	return ContractParam{Type: "Integer", Value: n.String()}
}

// NewByteArrayParam creates a ByteArray parameter (base64 on the wire).
func NewByteArrayParam(b []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: base64.StdEncoding.EncodeToString(b)}
}

// NewHash160Param creates a Hash160 parameter from 20 display-order bytes.
func NewHash160Param(b []byte) (ContractParam, error) {
	u, err := util.Uint160DecodeBytesLE(b)
	if err != nil {
		return ContractParam{}, err
	}
	return ContractParam{Type: "Hash160", Value: "0x" + u.StringLE()}, nil
}

// NormalizeScriptHash renders a contract hash as 0x-prefixed display hex.
func NormalizeScriptHash(h string) (string, error) {
	u, err := util.Uint160DecodeStringLE(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
	if err != nil {
		return "", err
	}
	return "0x" + u.StringLE(), nil
}
