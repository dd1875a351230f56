package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestDeriveTaskKey_Deterministic(t *testing.T) {
	k1, err := DeriveTaskKey(testMasterKey(), "0xabc")
	if err != nil {
		t.Fatalf("DeriveTaskKey: %v", err)
	}
	k2, err := DeriveTaskKey(testMasterKey(), "0xabc")
	if err != nil {
		t.Fatalf("DeriveTaskKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected deterministic key")
	}

	k3, err := DeriveTaskKey(testMasterKey(), "0xdef")
	if err != nil {
		t.Fatalf("DeriveTaskKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("expected different keys for different tasks")
	}
}

func TestDeriveTaskKey_Validation(t *testing.T) {
	if _, err := DeriveTaskKey([]byte("short"), "0xabc"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short master key, got %v", err)
	}
	if _, err := DeriveTaskKey(testMasterKey(), " "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for empty task id, got %v", err)
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	for _, plaintext := range [][]byte{[]byte("secret ids"), {}, bytes.Repeat([]byte{7}, 4096)} {
		sealed, err := SealForTask(testMasterKey(), "0xabc", plaintext)
		if err != nil {
			t.Fatalf("SealForTask: %v", err)
		}
		got, err := OpenForTask(testMasterKey(), "0xabc", sealed)
		if err != nil {
			t.Fatalf("OpenForTask: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %x want %x", got, plaintext)
		}
		if got == nil {
			t.Fatal("expected non-nil plaintext")
		}
	}
}

func TestOpenForTask_WrongTask(t *testing.T) {
	sealed, err := SealForTask(testMasterKey(), "0xabc", []byte("payload"))
	if err != nil {
		t.Fatalf("SealForTask: %v", err)
	}
	if _, err := OpenForTask(testMasterKey(), "0xdef", sealed); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestOpenForTask_Malformed(t *testing.T) {
	if _, err := OpenForTask(testMasterKey(), "0xabc", []byte{1, 2, 3}); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("expected ErrMalformedCiphertext, got %v", err)
	}

	sealed, _ := SealForTask(testMasterKey(), "0xabc", []byte("payload"))
	sealed[len(sealed)-1] ^= 0xff
	if _, err := OpenForTask(testMasterKey(), "0xabc", sealed); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for tampered ciphertext, got %v", err)
	}
}

func TestParseKeyHex(t *testing.T) {
	hexKey := "0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff"
	key, err := ParseKeyHex(hexKey)
	if err != nil {
		t.Fatalf("ParseKeyHex: %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("key length = %d, want %d", len(key), KeySize)
	}
	if _, err := ParseKeyHex("zz"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := ParseKeyHex("abcd"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short key, got %v", err)
	}
}

func TestTaskKeyring(t *testing.T) {
	ring, err := NewTaskKeyring(testMasterKey())
	if err != nil {
		t.Fatalf("NewTaskKeyring: %v", err)
	}
	sealed, err := ring.Seal("0x1", []byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := ring.Decrypt("0x1", sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Decrypt = %q, want hello", got)
	}

	ring.Close()
	if _, err := ring.Decrypt("0x1", sealed); err == nil {
		t.Fatal("expected failure after Close zeroed the key")
	}

	if _, err := NewTaskKeyring([]byte("short")); err == nil {
		t.Fatal("expected error for short master key")
	}
}
