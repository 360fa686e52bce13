package keyd

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemoryKiB = 64 * 1024
	argonTime      = 3
	argonThreads   = 1
	masterKeyLen   = 32
	saltLen        = 16
	nonceLen       = 12
)

// MasterKey derives and holds the process-wide encryption key for
// wallet blobs. It never persists; only the salt it was derived with
// does.
type MasterKey struct {
	key [masterKeyLen]byte
}

// LoadOrCreateMasterKey derives the master key via Argon2id from a
// process-owned secret and a salt persisted under stateDir. The
// secret itself is never written to disk.
func LoadOrCreateMasterKey(stateDir, secret string) (*MasterKey, error) {
	saltPath := filepath.Join(stateDir, "master.salt")

	salt, err := os.ReadFile(saltPath)
	if err != nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(stateDir, 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, err
		}
	}

	derived := argon2.IDKey([]byte(secret), salt, argonTime, argonMemoryKiB, argonThreads, masterKeyLen)
	mk := &MasterKey{}
	copy(mk.key[:], derived)
	return mk, nil
}

// Zeroize clears the master key from memory.
func (mk *MasterKey) Zeroize() {
	for i := range mk.key {
		mk.key[i] = 0
	}
}

// Encrypt seals plaintext under the master key, prepending a random
// 12-byte nonce to the ciphertext as spec.md requires.
func (mk *MasterKey) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, nonceLen+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt, reading the 12-byte nonce prefix.
func (mk *MasterKey) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < nonceLen {
		return nil, fmt.Errorf("keyd: ciphertext shorter than nonce")
	}
	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce, ct := blob[:nonceLen], blob[nonceLen:]
	return gcm.Open(nil, nonce, ct, nil)
}
