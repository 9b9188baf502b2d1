package blobdir

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

const secretLength = 32

// Secret is the stable per-device secret that every per-file key is derived
// from. It never leaves the parts directory.
type Secret []byte

// LoadOrCreateSecret reads the device secret at path, generating and
// persisting a fresh one on first use.
func LoadOrCreateSecret(path string) (Secret, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != secretLength {
			return nil, fmt.Errorf("device secret at %s has invalid length %d", path, len(data))
		}
		return Secret(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return Secret(secret), nil
}

// streamCipher derives the AES-256 key for one part file and returns the
// block cipher. Modern-format files carry 32 bytes of per-file random used
// as the derivation salt; legacy files were written before per-file key
// material existed and key directly off the device secret.
func (s Secret) streamCipher(random []byte) (cipher.Block, error) {
	if len(s) != secretLength {
		return nil, fmt.Errorf("device secret is not configured")
	}

	var kdf io.Reader
	if len(random) == randomKeyLength {
		kdf = hkdf.New(sha256.New, s, random, []byte("partstore modern part"))
	} else {
		kdf = hkdf.New(sha256.New, s, nil, []byte("partstore legacy part"))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return aes.NewCipher(key)
}

// newRandomKey generates fresh per-file key material.
func newRandomKey() ([]byte, error) {
	random := make([]byte, randomKeyLength)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}
	return random, nil
}
