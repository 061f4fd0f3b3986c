// Package onion implements layered (onion) encryption and decryption
// across a circuit's hops.
package onion

import (
	"strconv"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
)

// EncryptLayers wraps plaintext in one AEAD layer per hop, iterating from
// the exit hop (N-1) back to the entry hop (0). The entry hop's layer is
// the outermost envelope; a relay that owns hop i can peel exactly its
// own layer to recover the remainder destined for hop i+1.
//
// Refused unless the circuit is Established — a naive implementation
// that fell back to returning plaintext when keys are absent would leak
// data; this fails closed instead.
func EncryptLayers(plaintext []byte, c *circuit.Circuit) ([]byte, error) {
	if c.State() != circuit.StateEstablished {
		return nil, errors.DisposedError("encrypt_layers refused: circuit is not Established")
	}
	hops := c.Hops()
	out := plaintext
	for i := len(hops) - 1; i >= 0; i-- {
		sealed, err := hops[i].Encrypt(out)
		if err != nil {
			return nil, err
		}
		out = sealed
	}
	c.Touch()
	return out, nil
}

// DecryptLayers peels one AEAD layer per hop, iterating from the entry
// hop (0) to the exit hop (N-1), recovering the original plaintext.
//
// Refused unless the circuit is Established.
func DecryptLayers(ciphertext []byte, c *circuit.Circuit) ([]byte, error) {
	if c.State() != circuit.StateEstablished {
		return nil, errors.DisposedError("decrypt_layers refused: circuit is not Established")
	}
	hops := c.Hops()
	out := ciphertext
	for i := 0; i < len(hops); i++ {
		opened, err := hops[i].Decrypt(out)
		if err != nil {
			c.MarkFailed("aead decrypt failed at hop " + strconv.Itoa(i))
			return nil, err
		}
		out = opened
	}
	c.Touch()
	return out, nil
}

// EncryptForHop seals plaintext under a single hop's outbound direction,
// used by relay-side forwarding logic that only owns one layer.
func EncryptForHop(plaintext []byte, c *circuit.Circuit, hopIndex int) ([]byte, error) {
	hops := c.Hops()
	if hopIndex < 0 || hopIndex >= len(hops) {
		return nil, errors.CodecError("hop index out of range", nil)
	}
	return hops[hopIndex].Encrypt(plaintext)
}

// DecryptFromHop opens ciphertext under a single hop's inbound direction.
func DecryptFromHop(ciphertext []byte, c *circuit.Circuit, hopIndex int) ([]byte, error) {
	hops := c.Hops()
	if hopIndex < 0 || hopIndex >= len(hops) {
		return nil, errors.CodecError("hop index out of range", nil)
	}
	return hops[hopIndex].Decrypt(ciphertext)
}
