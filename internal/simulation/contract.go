package simulation

import (
	"encoding/hex"

	"github.com/R3E-Network/confidential_tasks/internal/abi"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
)

// Function is one contract entry point served by the network. Returns is the
// type tag the result is serialized as; empty for none.
type Function struct {
	Signature string
	Returns   string
}

// SecretWhitelistFunctions are the entry points of SecretWhitelistScript.
var SecretWhitelistFunctions = []Function{
	{Signature: tasks.SigAddSecret},
	{Signature: tasks.SigRemoveSecret},
	{Signature: tasks.SigListSecretIDs, Returns: "string[]"},
}

// SecretWhitelistScript keeps named secrets per testator. Secret ids are
// generated inside the enclave and never chosen by the caller.
const SecretWhitelistScript = `
var secrets = {};

function add_secret_for_testator(testator, name, content) {
	if (!name) {
		throw new Error("secret name is required");
	}
	var list = secrets[testator] || [];
	var id = uuid();
	list.push({ id: id, name: name, content: content });
	secrets[testator] = list;
	console.log("secret added for", testator);
	return null;
}

function remove_secret_for_testator(testator, id) {
	var list = secrets[testator] || [];
	var kept = list.filter(function (s) { return s.id !== id; });
	if (kept.length === list.length) {
		throw new Error("secret " + id + " not found");
	}
	secrets[testator] = kept;
	return null;
}

function get_current_secret_ids_for_testator(testator) {
	return (secrets[testator] || []).map(function (s) { return s.id; });
}
`

// SecretWhitelistAddress is the script hash the simulated secret whitelist
// contract is addressed by.
var SecretWhitelistAddress = ContractAddress("secret_whitelist")

// ContractAddress derives a stable simulated contract address from name.
func ContractAddress(name string) string {
	return "0x" + hex.EncodeToString(abi.Keccak256([]byte("simulated contract"), []byte(name))[:20])
}
