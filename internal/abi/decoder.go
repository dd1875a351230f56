package abi

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

// DecodeOutput parses decrypted task output against a return schema.
// An empty schema means the function returns nothing: the plaintext must be
// empty or a serialized Null, and the result is nil.
//
// Integers decode to *big.Int, addresses to 0x strings, string and address
// arrays to []string, other arrays to []any.
func DecodeOutput(schema string, plaintext []byte) (any, error) {
	if strings.TrimSpace(schema) == "" {
		if len(plaintext) == 0 {
			return nil, nil
		}
		item, err := stackitem.Deserialize(plaintext)
		if err != nil {
			return nil, fmt.Errorf("deserialize output: %w", err)
		}
		if item.Type() != stackitem.AnyT {
			return nil, fmt.Errorf("expected no return value, got %s", item.Type())
		}
		return nil, nil
	}

	t, err := ParseType(schema)
	if err != nil {
		return nil, fmt.Errorf("return schema: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("empty output for return type %s", t)
	}
	item, err := stackitem.Deserialize(plaintext)
	if err != nil {
		return nil, fmt.Errorf("deserialize output: %w", err)
	}
	return fromItem(t, item)
}

// DecodePayload splits a serialized task payload back into its selector and
// raw argument items. Compute workers use it to dispatch a task.
func DecodePayload(payload []byte) ([4]byte, []stackitem.Item, error) {
	var selector [4]byte

	item, err := stackitem.Deserialize(payload)
	if err != nil {
		return selector, nil, fmt.Errorf("deserialize payload: %w", err)
	}
	outer, ok := item.Value().([]stackitem.Item)
	if !ok || item.Type() != stackitem.ArrayT || len(outer) != 2 {
		return selector, nil, fmt.Errorf("payload must be a two-element array")
	}
	sel, err := outer[0].TryBytes()
	if err != nil || len(sel) != 4 {
		return selector, nil, fmt.Errorf("payload selector must be 4 bytes")
	}
	copy(selector[:], sel)

	args, ok := outer[1].Value().([]stackitem.Item)
	if !ok {
		return selector, nil, fmt.Errorf("payload arguments must be an array")
	}
	return selector, args, nil
}

// DecodeArgs converts raw argument items back into Go values for a signature.
func DecodeArgs(sig Signature, items []stackitem.Item) ([]any, error) {
	if len(items) != len(sig.Params) {
		return nil, fmt.Errorf("%s expects %d args, got %d", sig.Name, len(sig.Params), len(items))
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := fromItem(sig.Params[i], item)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func fromItem(t Type, item stackitem.Item) (any, error) {
	if t.Array {
		if item.Type() != stackitem.ArrayT && item.Type() != stackitem.StructT {
			return nil, fmt.Errorf("expected array for %s, got %s", t, item.Type())
		}
		elems := item.Value().([]stackitem.Item)
		if t.Elem.Kind == KindString || t.Elem.Kind == KindAddress {
			out := make([]string, len(elems))
			for i, e := range elems {
				v, err := fromItem(*t.Elem, e)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				out[i] = v.(string)
			}
			return out, nil
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			v, err := fromItem(*t.Elem, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	switch t.Kind {
	case KindString:
		raw, err := byteItem(item)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("string output is not valid UTF-8")
		}
		return string(raw), nil

	case KindAddress:
		raw, err := byteItem(item)
		if err != nil {
			return nil, err
		}
		if len(raw) != 20 {
			return nil, fmt.Errorf("address output must be 20 bytes, got %d", len(raw))
		}
		return FormatAddress(raw), nil

	case KindBytes, KindBytes32:
		raw, err := byteItem(item)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindBytes32 && len(raw) != 32 {
			return nil, fmt.Errorf("bytes32 output has %d bytes", len(raw))
		}
		return raw, nil

	case KindBool:
		if item.Type() != stackitem.BooleanT && item.Type() != stackitem.IntegerT {
			return nil, fmt.Errorf("expected bool, got %s", item.Type())
		}
		return item.TryBool()

	case KindUint, KindInt:
		if item.Type() != stackitem.IntegerT {
			return nil, fmt.Errorf("expected integer, got %s", item.Type())
		}
		n, err := item.TryInteger()
		if err != nil {
			return nil, err
		}
		if err := checkRange(t, n); err != nil {
			return nil, err
		}
		return new(big.Int).Set(n), nil
	}

	return nil, fmt.Errorf("unsupported type %s", t)
}

func byteItem(item stackitem.Item) ([]byte, error) {
	if item.Type() != stackitem.ByteArrayT && item.Type() != stackitem.BufferT {
		return nil, fmt.Errorf("expected byte string, got %s", item.Type())
	}
	return item.TryBytes()
}
