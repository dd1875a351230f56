// Package crypto provides the sealing primitives used for confidential task results.
// Each task result is sealed with AES-256-GCM under a key derived from a master
// key and the task identity, with the task id bound as additional data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of master and derived keys in bytes.
const KeySize = 32

var (
	ErrInvalidKey          = errors.New("invalid key")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrAuthentication      = errors.New("ciphertext authentication failed")
)

var hkdfSalt = []byte("confidential-task-result")

// DeriveTaskKey derives the result key for a task from the master key.
func DeriveTaskKey(masterKey []byte, taskID string) ([]byte, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", ErrInvalidKey, KeySize)
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidKey)
	}

	reader := hkdf.New(sha256.New, masterKey, hkdfSalt, []byte("task-result:"+taskID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with AES-GCM; the output is nonce || ciphertext.
func Encrypt(key, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens a nonce || ciphertext blob produced by Encrypt.
func Decrypt(key, sealed, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCiphertext, len(sealed))
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// SealForTask seals a task result under the task's derived key.
func SealForTask(masterKey []byte, taskID string, plaintext []byte) ([]byte, error) {
	key, err := DeriveTaskKey(masterKey, taskID)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)
	return Encrypt(key, plaintext, []byte(taskID))
}

// OpenForTask opens a result sealed by SealForTask.
func OpenForTask(masterKey []byte, taskID string, sealed []byte) ([]byte, error) {
	key, err := DeriveTaskKey(masterKey, taskID)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)
	return Decrypt(key, sealed, []byte(taskID))
}

// ParseKeyHex decodes a hex master key, with or without 0x prefix.
func ParseKeyHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) < KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}

// GenerateRandomBytes returns n cryptographically random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
