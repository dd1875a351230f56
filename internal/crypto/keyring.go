package crypto

import "fmt"

// TaskKeyring holds a master key and seals/opens task results with keys
// derived from each task's identity.
type TaskKeyring struct {
	masterKey []byte
}

// NewTaskKeyring copies masterKey into a new keyring.
func NewTaskKeyring(masterKey []byte) (*TaskKeyring, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", ErrInvalidKey, KeySize)
	}
	k := make([]byte, len(masterKey))
	copy(k, masterKey)
	return &TaskKeyring{masterKey: k}, nil
}

// Seal seals plaintext for taskID.
func (k *TaskKeyring) Seal(taskID string, plaintext []byte) ([]byte, error) {
	return SealForTask(k.masterKey, taskID, plaintext)
}

// Decrypt opens a sealed result for taskID.
func (k *TaskKeyring) Decrypt(taskID string, sealed []byte) ([]byte, error) {
	return OpenForTask(k.masterKey, taskID, sealed)
}

// Close zeroes the master key.
func (k *TaskKeyring) Close() {
	ZeroBytes(k.masterKey)
}
