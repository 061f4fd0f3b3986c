package identity

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tribler-go/tunnelcore/pkg/errors"
)

// HopCipher wraps a single direction's AEAD state for one hop: a derived
// key and a monotonic counter used as the nonce source. A (key, nonce)
// pair is used at most once; a counter that reaches its maximum value
// refuses further operations rather than wrapping.
//
// Encrypt and decrypt counters for the two directions of a hop are
// independent HopCipher values — the hop never shares a counter across
// directions.
type HopCipher struct {
	aead    ciphergo
	counter uint64
	closed  bool
}

// ciphergo is the subset of cipher.AEAD used here, named to avoid
// colliding with the stdlib cipher package import in callers.
type ciphergo interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewHopCipher builds a HopCipher from a 32-byte derived key.
func NewHopCipher(key []byte) (*HopCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.AeadFailedError("failed to initialize chacha20poly1305", err)
	}
	return &HopCipher{aead: aead}, nil
}

func counterNonce(counter uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], counter)
	return nonce
}

// Encrypt seals plaintext under the next nonce in sequence, returning
// nonce || ciphertext || tag as required by the wire format.
func (h *HopCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if h.closed {
		return nil, errors.DisposedError("hop cipher closed")
	}
	if h.counter == ^uint64(0) {
		return nil, errors.AeadFailedError("hop encryption counter exhausted its nonce space", nil)
	}
	nonce := counterNonce(h.counter)
	h.counter++
	out := make([]byte, 0, NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce[:]...)
	out = h.aead.Seal(out, nonce[:], plaintext, nil)
	return out, nil
}

// Decrypt reads the leading 12-byte nonce from data, then opens the
// remainder. The counter here tracks the highest nonce seen purely for
// bookkeeping/metrics; the AEAD itself is stateless per call, so replay
// detection at the onion layer relies on message-level identifiers, not
// nonce freshness.
func (h *HopCipher) Decrypt(data []byte) ([]byte, error) {
	if h.closed {
		return nil, errors.DisposedError("hop cipher closed")
	}
	if len(data) < NonceSize {
		return nil, errors.CodecError("ciphertext shorter than nonce", nil)
	}
	nonce := data[:NonceSize]
	ciphertext := data[NonceSize:]
	plaintext, err := h.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.AeadFailedError("aead open failed", err)
	}
	h.counter++
	return plaintext, nil
}

// Close disposes the cipher; further Encrypt/Decrypt calls fail with
// Circuit/Disposed. Idempotent.
func (h *HopCipher) Close() {
	h.aead = nil
	h.closed = true
}
