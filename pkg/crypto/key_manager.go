package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

func decodeKey(raw string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("base64 decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

var (
	ErrKeyNotFound  = errors.New("encryption key not found")
	ErrKeyNotLoaded = errors.New("key manager not initialized")
)

// KeyManager holds the encryptors for every configured key version so that
// credentials written under an old key stay readable after rotation.
// Keys come from MASTER_ENCRYPTION_KEY (v1) and MASTER_ENCRYPTION_KEY_V2..V10.
type KeyManager struct {
	mu         sync.RWMutex
	currentVer int
	encryptors map[int]*Encryptor
}

// NewKeyManager loads keys from the environment. Version 1 is required.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{encryptors: make(map[int]*Encryptor)}

	if err := km.loadKey(1, "MASTER_ENCRYPTION_KEY"); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	km.currentVer = 1

	for v := 2; v <= 10; v++ {
		if err := km.loadKey(v, fmt.Sprintf("MASTER_ENCRYPTION_KEY_V%d", v)); err == nil {
			km.currentVer = v
		}
	}
	return km, nil
}

func (km *KeyManager) loadKey(version int, envName string) error {
	raw := os.Getenv(envName)
	if raw == "" {
		return ErrKeyNotFound
	}
	key, err := decodeKey(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return err
	}
	km.mu.Lock()
	km.encryptors[version] = enc
	km.mu.Unlock()
	return nil
}

// Encrypt seals plaintext with the newest key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	enc := km.encryptors[km.currentVer]
	km.mu.RUnlock()
	if enc == nil {
		return "", ErrKeyNotLoaded
	}
	return enc.Encrypt(plaintext)
}

// Decrypt opens ciphertext with whichever key version produced it.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	km.mu.RLock()
	enc := km.encryptors[version]
	km.mu.RUnlock()
	if enc == nil {
		return "", fmt.Errorf("%w: version %d", ErrKeyNotFound, version)
	}
	return enc.Decrypt(ciphertext)
}

// CurrentVersion returns the key version used for new writes.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentVer
}
