// Package vault stores third-party credentials encrypted at rest and
// reveals plaintext only to authorized callers, never through query
// surfaces.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	masterKeySize = 32
	saltSize      = 16
)

var keyInfo = []byte("clusterplane/credential")

// Keyring holds versioned master keys. Each seal derives a fresh
// one-off key with HKDF over a random salt, so a leaked derived key
// exposes a single credential. Old versions stay loaded until the
// re-encryption sweep has migrated every row sealed under them.
//
// The keys map is immutable after construction; mu guards active,
// which rotation flips while seals are in flight.
type Keyring struct {
	keys   map[int][]byte
	mu     sync.RWMutex
	active int
}

// NewKeyring builds a keyring from versioned 32-byte master keys.
// The active version must be present.
func NewKeyring(keys map[int][]byte, active int) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("vault: no master keys configured")
	}
	for version, key := range keys {
		if len(key) != masterKeySize {
			return nil, fmt.Errorf("vault: key version %d has %d bytes, want %d", version, len(key), masterKeySize)
		}
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("vault: active key version %d not loaded", active)
	}
	cp := make(map[int][]byte, len(keys))
	for v, k := range keys {
		cp[v] = k
	}
	return &Keyring{keys: cp, active: active}, nil
}

// ActiveVersion returns the version new seals are written under.
func (k *Keyring) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Activate switches sealing to the given version. Used for rotation;
// the version must already be loaded.
func (k *Keyring) Activate(version int) error {
	if _, ok := k.keys[version]; !ok {
		return fmt.Errorf("vault: cannot activate unknown key version %d", version)
	}
	k.mu.Lock()
	k.active = version
	k.mu.Unlock()
	return nil
}

// Seal encrypts plaintext under the active key and returns the
// ciphertext blob and the key version that sealed it. The blob is
// salt || nonce || sealed and is opaque to callers.
func (k *Keyring) Seal(plaintext []byte) ([]byte, int, error) {
	k.mu.RLock()
	version := k.active
	master := k.keys[version]
	k.mu.RUnlock()

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, 0, fmt.Errorf("vault: salt generation failed: %w", err)
	}

	aead, err := k.derive(master, salt)
	if err != nil {
		return nil, 0, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, 0, fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	blob := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)
	return blob, version, nil
}

// Open decrypts a blob sealed under the given key version.
func (k *Keyring) Open(blob []byte, version int) ([]byte, error) {
	master, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("vault: key version %d not loaded", version)
	}
	if len(blob) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errors.New("vault: ciphertext too short")
	}

	salt := blob[:saltSize]
	aead, err := k.derive(master, salt)
	if err != nil {
		return nil, err
	}

	nonce := blob[saltSize : saltSize+aead.NonceSize()]
	sealed := blob[saltSize+aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("vault: decryption failed")
	}
	return plaintext, nil
}

func (k *Keyring) derive(master, salt []byte) (cipher.AEAD, error) {
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, keyInfo), derived); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}
	return chacha20poly1305.NewX(derived)
}
