package abi

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"golang.org/x/crypto/sha3"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// maxIntegerBits is the widest signed integer the VM stack accepts.
const maxIntegerBits = 255

// Encoded is the canonical form of one task invocation.
type Encoded struct {
	Signature   Signature
	Selector    [4]byte
	Payload     []byte
	Fingerprint string
}

// Codec implements task encoding and output decoding. It is stateless.
type Codec struct{}

// Encode is Codec's method form of the package-level Encode.
func (Codec) Encode(signature string, args []task.Arg) (*Encoded, error) {
	return Encode(signature, args)
}

// DecodeOutput is Codec's method form of the package-level DecodeOutput.
func (Codec) DecodeOutput(schema string, plaintext []byte) (any, error) {
	return DecodeOutput(schema, plaintext)
}

// Encode turns a function signature and its typed arguments into a
// deterministic payload and fingerprint. It fails with task.ErrEncoding
// when an argument cannot be represented as its declared type.
func Encode(signature string, args []task.Arg) (*Encoded, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return nil, task.NewEncodingError("parse signature", err)
	}
	if len(args) != len(sig.Params) {
		return nil, task.NewEncodingError(
			fmt.Sprintf("%s expects %d args, got %d", sig.Name, len(sig.Params), len(args)), nil)
	}

	items := make([]stackitem.Item, len(args))
	for i, arg := range args {
		declared := sig.Params[i]
		tagged, err := ParseType(arg.Type)
		if err != nil {
			return nil, task.NewEncodingError(fmt.Sprintf("arg %d", i), err)
		}
		if tagged.String() != declared.String() {
			return nil, task.NewEncodingError(
				fmt.Sprintf("arg %d tagged %s, signature declares %s", i, tagged, declared), nil)
		}
		item, err := toItem(declared, arg.Value)
		if err != nil {
			return nil, task.NewEncodingError(fmt.Sprintf("arg %d (%s)", i, declared), err)
		}
		items[i] = item
	}

	selector := Selector(sig)
	payload, err := stackitem.Serialize(stackitem.NewArray([]stackitem.Item{
		stackitem.NewByteArray(selector[:]),
		stackitem.NewArray(items),
	}))
	if err != nil {
		return nil, task.NewEncodingError("serialize payload", err)
	}

	return &Encoded{
		Signature:   sig,
		Selector:    selector,
		Payload:     payload,
		Fingerprint: "0x" + hex.EncodeToString(Keccak256(payload)),
	}, nil
}

// EncodeValue serializes a single value of the given type tag. An empty tag
// with a nil value serializes to Null.
func EncodeValue(tag string, value any) ([]byte, error) {
	if strings.TrimSpace(tag) == "" {
		if value != nil {
			return nil, fmt.Errorf("value supplied for empty schema")
		}
		return stackitem.Serialize(stackitem.Null{})
	}
	t, err := ParseType(tag)
	if err != nil {
		return nil, err
	}
	item, err := toItem(t, value)
	if err != nil {
		return nil, err
	}
	return stackitem.Serialize(item)
}

// Selector returns the first four bytes of keccak256 of the canonical signature.
func Selector(sig Signature) [4]byte {
	var out [4]byte
	copy(out[:], Keccak256([]byte(sig.Canonical())))
	return out
}

// Keccak256 hashes the concatenation of its inputs.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ParseAddress normalizes a 0x-prefixed script hash or a Neo N3 address to
// 20 bytes in display (little-endian string) order.
func ParseAddress(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("address %q is not hex: %w", s, err)
		}
		if len(raw) != util.Uint160Size {
			return nil, fmt.Errorf("address %q must be %d bytes, got %d", s, util.Uint160Size, len(raw))
		}
		return raw, nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return u.BytesLE(), nil
}

// FormatAddress renders 20 address bytes in 0x form.
func FormatAddress(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func toItem(t Type, value any) (stackitem.Item, error) {
	if t.Array {
		return arrayItem(*t.Elem, value)
	}

	switch t.Kind {
	case KindAddress:
		raw, err := addressBytes(value)
		if err != nil {
			return nil, err
		}
		return stackitem.NewByteArray(raw), nil

	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("string is not valid UTF-8")
		}
		return stackitem.NewByteArray([]byte(s)), nil

	case KindBytes, KindBytes32:
		raw, err := bytesValue(value)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindBytes32 && len(raw) != 32 {
			return nil, fmt.Errorf("bytes32 requires 32 bytes, got %d", len(raw))
		}
		return stackitem.NewByteArray(raw), nil

	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return stackitem.NewBool(b), nil

	case KindUint, KindInt:
		n, err := integerValue(value)
		if err != nil {
			return nil, err
		}
		if err := checkRange(t, n); err != nil {
			return nil, err
		}
		return stackitem.NewBigInteger(n), nil
	}

	return nil, fmt.Errorf("unsupported type %s", t)
}

func arrayItem(elem Type, value any) (stackitem.Item, error) {
	if value == nil {
		return stackitem.NewArray([]stackitem.Item{}), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected slice for %s[], got %T", elem, value)
	}
	if _, isBytes := value.([]byte); isBytes {
		return nil, fmt.Errorf("expected slice for %s[], got []byte", elem)
	}

	items := make([]stackitem.Item, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := toItem(elem, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		items[i] = item
	}
	return stackitem.NewArray(items), nil
}

func addressBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return ParseAddress(v)
	case util.Uint160:
		return v.BytesLE(), nil
	case [20]byte:
		return v[:], nil
	case []byte:
		if len(v) != util.Uint160Size {
			return nil, fmt.Errorf("address must be %d bytes, got %d", util.Uint160Size, len(v))
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return nil, fmt.Errorf("expected address, got %T", value)
}

func bytesValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case string:
		if !strings.HasPrefix(v, "0x") {
			return nil, fmt.Errorf("byte strings must be 0x-prefixed hex")
		}
		return hex.DecodeString(v[2:])
	}
	return nil, fmt.Errorf("expected bytes, got %T", value)
}

func integerValue(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		// JSON numbers decode as float64; only integral values are accepted.
		f := big.NewFloat(v)
		if !f.IsInt() {
			return nil, fmt.Errorf("non-integral number %v", v)
		}
		n, _ := f.Int(nil)
		return n, nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal integer %q", v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", value)
}

func checkRange(t Type, n *big.Int) error {
	if t.Kind == KindUint {
		if n.Sign() < 0 {
			return fmt.Errorf("negative value for %s", t)
		}
		if n.BitLen() > t.Bits {
			return fmt.Errorf("value overflows %s", t)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Bits-1))
		minimum := new(big.Int).Neg(limit)
		if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
			return fmt.Errorf("value overflows %s", t)
		}
	}
	if n.BitLen() > maxIntegerBits {
		return fmt.Errorf("value exceeds the VM integer range")
	}
	return nil
}
