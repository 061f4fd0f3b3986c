package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSecureStorage_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewSecureStorage(filepath.Join(dir, "identity.key"))

	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	key := bytes.Repeat([]byte{0x11}, 32)

	if err := store.Store(seed, key); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, present := store.Load(key)
	if !present {
		t.Fatal("expected key to be present after Store")
	}
	if !bytes.Equal(got, seed) {
		t.Errorf("loaded seed mismatch")
	}
}

func TestSecureStorage_MissingFileIsNoKeyPresent(t *testing.T) {
	dir := t.TempDir()
	store := NewSecureStorage(filepath.Join(dir, "absent.key"))

	_, present := store.Load(bytes.Repeat([]byte{0x01}, 32))
	if present {
		t.Fatal("expected no key present for a missing file")
	}
}

func TestSecureStorage_WrongKeyIsNoKeyPresent(t *testing.T) {
	dir := t.TempDir()
	store := NewSecureStorage(filepath.Join(dir, "identity.key"))

	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	if err := store.Store(seed, bytes.Repeat([]byte{0x11}, 32)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, present := store.Load(bytes.Repeat([]byte{0x22}, 32))
	if present {
		t.Fatal("expected no key present when decrypting under the wrong key")
	}
}

func TestSecureStorage_CorruptFileIsNoKeyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	store := NewSecureStorage(path)

	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	key := bytes.Repeat([]byte{0x11}, 32)
	if err := store.Store(seed, key); err != nil {
		t.Fatalf("Store: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("corrupt stored file: %v", err)
	}

	_, present := store.Load(key)
	if present {
		t.Fatal("expected no key present for a corrupt file")
	}
}

func TestSecureStorage_StoreOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store := NewSecureStorage(filepath.Join(dir, "identity.key"))
	key := bytes.Repeat([]byte{0x33}, 32)

	first := bytes.Repeat([]byte{0x01}, SeedSize)
	second := bytes.Repeat([]byte{0x02}, SeedSize)

	if err := store.Store(first, key); err != nil {
		t.Fatalf("Store(first): %v", err)
	}
	if err := store.Store(second, key); err != nil {
		t.Fatalf("Store(second): %v", err)
	}

	got, present := store.Load(key)
	if !present {
		t.Fatal("expected key present after second store")
	}
	if !bytes.Equal(got, second) {
		t.Error("expected the second store to win")
	}
}
