// Package abi encodes confidential task invocations into canonical payloads and
// decodes task outputs against a declared return schema.
//
// Payloads use the Neo VM stack item binary serialization, so the same codec
// is understood by the task registry contract and the compute workers.
package abi

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the base kind of a type tag.
type Kind string

const (
	KindAddress Kind = "address"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindBytes32 Kind = "bytes32"
	KindBool    Kind = "bool"
	KindUint    Kind = "uint"
	KindInt     Kind = "int"
)

// Type is a parsed type tag such as "address", "uint64" or "string[]".
type Type struct {
	Kind  Kind
	Bits  int   // integer width, zero for non-integers
	Elem  *Type // element type for arrays
	Array bool
}

// ParseType parses a type tag.
func ParseType(tag string) (Type, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Type{}, fmt.Errorf("empty type tag")
	}

	if strings.HasSuffix(tag, "[]") {
		elem, err := ParseType(strings.TrimSuffix(tag, "[]"))
		if err != nil {
			return Type{}, err
		}
		if elem.Array {
			return Type{}, fmt.Errorf("nested arrays are not supported: %s", tag)
		}
		return Type{Array: true, Elem: &elem}, nil
	}

	switch Kind(tag) {
	case KindAddress, KindString, KindBytes, KindBytes32, KindBool:
		return Type{Kind: Kind(tag)}, nil
	case KindUint, KindInt:
		return Type{Kind: Kind(tag), Bits: 256}, nil
	}

	for _, k := range []Kind{KindUint, KindInt} {
		if !strings.HasPrefix(tag, string(k)) {
			continue
		}
		bits, err := strconv.Atoi(strings.TrimPrefix(tag, string(k)))
		if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
			return Type{}, fmt.Errorf("invalid integer width in %q", tag)
		}
		return Type{Kind: k, Bits: bits}, nil
	}

	return Type{}, fmt.Errorf("unsupported type tag %q", tag)
}

// String returns the canonical form of the type tag.
func (t Type) String() string {
	if t.Array {
		return t.Elem.String() + "[]"
	}
	if t.Kind == KindUint || t.Kind == KindInt {
		return string(t.Kind) + strconv.Itoa(t.Bits)
	}
	return string(t.Kind)
}

// Signature is a parsed function signature.
type Signature struct {
	Name   string
	Params []Type
}

// ParseSignature parses "name(t1,t2,...)".
func ParseSignature(sig string) (Signature, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return Signature{}, fmt.Errorf("malformed function signature %q", sig)
	}

	name := strings.TrimSpace(sig[:open])
	if !isIdentifier(name) {
		return Signature{}, fmt.Errorf("invalid function name %q", name)
	}

	inner := sig[open+1 : len(sig)-1]
	if strings.ContainsAny(inner, "()") {
		return Signature{}, fmt.Errorf("tuple parameters are not supported: %q", sig)
	}

	out := Signature{Name: name}
	if strings.TrimSpace(inner) == "" {
		return out, nil
	}
	for i, part := range strings.Split(inner, ",") {
		t, err := ParseType(part)
		if err != nil {
			return Signature{}, fmt.Errorf("param %d: %w", i, err)
		}
		out.Params = append(out.Params, t)
	}
	return out, nil
}

// Canonical returns the signature with canonical type tags and no whitespace.
func (s Signature) Canonical() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return s.Name + "(" + strings.Join(parts, ",") + ")"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
