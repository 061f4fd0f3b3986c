package identity

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// storageNonceSize and storageTagSize describe the on-disk layout of a
// secure key file: nonce(12) || ciphertext(32) || tag(16).
const (
	storageNonceSize = chacha20poly1305.NonceSize
	storageSeedSize  = SeedSize
	storageTagSize   = chacha20poly1305.Overhead
	storageFileSize  = storageNonceSize + storageSeedSize + storageTagSize
)

// SecureStorage persists an Ed25519 seed encrypted at rest under a
// caller-supplied 32-byte key.
type SecureStorage struct {
	path string
}

// NewSecureStorage returns a SecureStorage backed by the given file path.
func NewSecureStorage(path string) *SecureStorage {
	return &SecureStorage{path: path}
}

// Store encrypts seed under key and writes it to disk, overwriting any
// existing file atomically (write to a temp file, then rename).
func (s *SecureStorage) Store(seed, key []byte) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, storageNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce, seed, nil)

	out := make([]byte, 0, storageFileSize)
	out = append(out, nonce...)
	out = append(out, sealed...)

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tunnelcore-key-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Load decrypts the stored seed under key. Corrupt files, a
// wrong-key decryption failure, and a missing file all surface as
// (nil, false) rather than an error: the caller sees "no key present",
// not a diagnostic.
func (s *SecureStorage) Load(key []byte) (seed []byte, present bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	if len(data) != storageFileSize {
		return nil, false
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, false
	}
	nonce := data[:storageNonceSize]
	ciphertext := data[storageNonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
