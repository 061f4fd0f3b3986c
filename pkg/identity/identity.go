// Package identity provides long-term Ed25519 identities, per-hop X25519
// key agreement and AEAD derivation, and encrypted-at-rest key storage.
//
// Security considerations:
// - All random number generation uses crypto/rand (CSPRNG)
// - Key comparisons use constant-time operations
// - Closing a hop or circuit drops its AEAD ciphers; the key bytes are not
//   overwritten with zeros
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // peer-id derivation, not a security boundary
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/tribler-go/tunnelcore/pkg/errors"
)

const (
	// SeedSize is the size of an Ed25519 private seed.
	SeedSize = ed25519.SeedSize
	// PublicKeySize is the size of an Ed25519 or X25519 public key.
	PublicKeySize = 32
	// AEADKeySize is the size of a derived per-hop AEAD key.
	AEADKeySize = chacha20poly1305.KeySize
	// NonceSize is the size of a ChaCha20-Poly1305 nonce.
	NonceSize = chacha20poly1305.NonceSize
)

// Identity is a long-term Ed25519 keypair. PeerID is the 40-hex-char
// SHA-1 digest of the raw public key.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	PeerID     string
}

// GenerateIdentity creates a new random Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.InternalError("failed to generate ed25519 identity", err)
	}
	return newIdentity(pub, priv), nil
}

// IdentityFromSeed reconstructs an identity from its 32-byte private seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, errors.CodecError(fmt.Sprintf("identity seed must be %d bytes, got %d", SeedSize, len(seed)), nil)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return newIdentity(pub, priv), nil
}

func newIdentity(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	digest := sha1.Sum(pub) //nolint:gosec
	return &Identity{
		PublicKey:  pub,
		PrivateKey: priv,
		PeerID:     hex.EncodeToString(digest[:]),
	}
}

// Seed returns the 32-byte private seed backing this identity.
func (id *Identity) Seed() []byte {
	return id.PrivateKey.Seed()
}

// Sign signs message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.PrivateKey, message)
}

// Verify checks a signature against a raw 32-byte Ed25519 public key.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// PeerIDFromPublicKey derives the 40-hex-char SHA-1 peer-id for a raw
// 32-byte public key, without requiring a full Identity.
func PeerIDFromPublicKey(publicKey []byte) string {
	digest := sha1.Sum(publicKey) //nolint:gosec
	return hex.EncodeToString(digest[:])
}

// EphemeralKeyPair is a Curve25519 keypair used for one hop's key exchange.
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateEphemeralKeyPair creates a fresh X25519 keypair for a circuit
// hop's key exchange.
func GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	kp := &EphemeralKeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, errors.InternalError("failed to generate ephemeral key", err)
	}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// Agree performs X25519(ourPrivate, theirPublic) to produce a shared secret.
func Agree(ourPrivate, theirPublic [32]byte) ([32]byte, error) {
	var shared [32]byte
	curve25519.ScalarMult(&shared, &ourPrivate, &theirPublic)
	var zero [32]byte
	// curve25519 returns an all-zero output for a small-order / invalid
	// public key; reject it rather than deriving key material from it.
	if subtle.ConstantTimeCompare(shared[:], zero[:]) == 1 {
		return shared, errors.AgreementFailedError("x25519 agreement produced a degenerate shared secret", nil)
	}
	return shared, nil
}

// DeriveHopKey derives the 32-byte AEAD key for hop index idx from a
// shared secret, using HKDF-SHA256 with info = "hop-encryption-{index}".
func DeriveHopKey(sharedSecret [32]byte, idx int) ([]byte, error) {
	info := []byte(fmt.Sprintf("hop-encryption-%d", idx))
	r := hkdf.New(sha256.New, sharedSecret[:], nil, info)
	key := make([]byte, AEADKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.InternalError("hkdf key derivation failed", err)
	}
	return key, nil
}
