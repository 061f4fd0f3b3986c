package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tribler-go/tunnelcore/pkg/errors"
)

// CreatePayload is the CREATE message body: circuit-id(4) | identifier(2) |
// node-public-key(len=32|32B) | ephemeral-pubkey(len=32|32B). Total 74 bytes.
type CreatePayload struct {
	CircuitID     uint32
	Identifier    uint16
	NodePublicKey [PublicKeyLen]byte
	EphemeralKey  [EphemeralLen]byte
}

// EncodeCreate serializes a CreatePayload to its bit-exact wire form.
func EncodeCreate(p CreatePayload) []byte {
	buf := make([]byte, 0, 74)
	var hdr [6]byte
	binary.BigEndian.PutUint32(hdr[0:4], p.CircuitID)
	binary.BigEndian.PutUint16(hdr[4:6], p.Identifier)
	buf = append(buf, hdr[:]...)
	buf = writeLengthPrefixed(buf, p.NodePublicKey[:])
	buf = writeLengthPrefixed(buf, p.EphemeralKey[:])
	return buf
}

// DecodeCreate parses a CREATE payload, rejecting malformed frames and
// non-32-byte public keys with Codec/Invalid.
func DecodeCreate(data []byte) (CreatePayload, error) {
	var p CreatePayload
	if len(data) < 6 {
		return p, errors.CodecError("CREATE payload shorter than header", nil)
	}
	p.CircuitID = binary.BigEndian.Uint32(data[0:4])
	p.Identifier = binary.BigEndian.Uint16(data[4:6])
	rest := data[6:]

	nodeKey, rest, err := readLengthPrefixed(rest, PublicKeyLen)
	if err != nil {
		return p, errors.CodecError("CREATE node public key", err)
	}
	copy(p.NodePublicKey[:], nodeKey)

	ephKey, _, err := readLengthPrefixed(rest, EphemeralLen)
	if err != nil {
		return p, errors.CodecError("CREATE ephemeral key", err)
	}
	copy(p.EphemeralKey[:], ephKey)

	return p, nil
}

// CreatedPayload is the CREATED/EXTENDED message body: circuit-id(4) |
// identifier(2) | ephemeral-pubkey(len=32|32B) | auth(fixed 32B, no length
// prefix) | candidates(trailing remainder).
//
// The fixed-width auth field is a deliberate compatibility requirement
// (spec.md §4.2): every other field in this message is length-prefixed, but
// auth is not, matching the wire layout it must interoperate with.
type CreatedPayload struct {
	CircuitID    uint32
	Identifier   uint16
	EphemeralKey [EphemeralLen]byte
	Auth         [AuthLen]byte
	Candidates   []byte
}

// EncodeCreated serializes a CreatedPayload (also used for EXTENDED).
func EncodeCreated(p CreatedPayload) []byte {
	buf := make([]byte, 0, 72+len(p.Candidates))
	var hdr [6]byte
	binary.BigEndian.PutUint32(hdr[0:4], p.CircuitID)
	binary.BigEndian.PutUint16(hdr[4:6], p.Identifier)
	buf = append(buf, hdr[:]...)
	buf = writeLengthPrefixed(buf, p.EphemeralKey[:])
	buf = append(buf, p.Auth[:]...)
	buf = append(buf, p.Candidates...)
	return buf
}

// DecodeCreated parses a CREATED/EXTENDED payload.
func DecodeCreated(data []byte) (CreatedPayload, error) {
	var p CreatedPayload
	if len(data) < 6 {
		return p, errors.CodecError("CREATED payload shorter than header", nil)
	}
	p.CircuitID = binary.BigEndian.Uint32(data[0:4])
	p.Identifier = binary.BigEndian.Uint16(data[4:6])
	rest := data[6:]

	ephKey, rest, err := readLengthPrefixed(rest, EphemeralLen)
	if err != nil {
		return p, errors.CodecError("CREATED ephemeral key", err)
	}
	copy(p.EphemeralKey[:], ephKey)

	if len(rest) < AuthLen {
		return p, errors.CodecError("CREATED payload missing fixed-width auth", nil)
	}
	copy(p.Auth[:], rest[:AuthLen])
	p.Candidates = append([]byte(nil), rest[AuthLen:]...)

	return p, nil
}

// ExtendPayload is the EXTEND message body: circuit-id(4) |
// node-public-key(len=32|32B) | ipv4(4) | port(2) | identifier(2). Total 46
// bytes.
type ExtendPayload struct {
	CircuitID     uint32
	NodePublicKey [PublicKeyLen]byte
	IPv4          uint32
	Port          uint16
	Identifier    uint16
}

// EncodeExtend serializes an ExtendPayload to its bit-exact wire form.
func EncodeExtend(p ExtendPayload) []byte {
	buf := make([]byte, 0, 46)
	var circID [4]byte
	binary.BigEndian.PutUint32(circID[:], p.CircuitID)
	buf = append(buf, circID[:]...)
	buf = writeLengthPrefixed(buf, p.NodePublicKey[:])
	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], p.IPv4)
	binary.BigEndian.PutUint16(tail[4:6], p.Port)
	binary.BigEndian.PutUint16(tail[6:8], p.Identifier)
	buf = append(buf, tail[:]...)
	return buf
}

// DecodeExtend parses an EXTEND payload.
func DecodeExtend(data []byte) (ExtendPayload, error) {
	var p ExtendPayload
	if len(data) < 4 {
		return p, errors.CodecError("EXTEND payload shorter than circuit id", nil)
	}
	p.CircuitID = binary.BigEndian.Uint32(data[0:4])
	rest := data[4:]

	nodeKey, rest, err := readLengthPrefixed(rest, PublicKeyLen)
	if err != nil {
		return p, errors.CodecError("EXTEND node public key", err)
	}
	copy(p.NodePublicKey[:], nodeKey)

	if len(rest) != 8 {
		return p, errors.CodecError(fmt.Sprintf("EXTEND trailer must be 8 bytes, got %d", len(rest)), nil)
	}
	p.IPv4 = binary.BigEndian.Uint32(rest[0:4])
	p.Port = binary.BigEndian.Uint16(rest[4:6])
	p.Identifier = binary.BigEndian.Uint16(rest[6:8])

	return p, nil
}

// DestroyPayload is the DESTROY message body: circuit-id(4) | reason(2).
type DestroyPayload struct {
	CircuitID uint32
	Reason    uint16
}

// EncodeDestroy serializes a DestroyPayload.
func EncodeDestroy(p DestroyPayload) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint32(buf[0:4], p.CircuitID)
	binary.BigEndian.PutUint16(buf[4:6], p.Reason)
	return buf
}

// DecodeDestroy parses a DESTROY payload.
func DecodeDestroy(data []byte) (DestroyPayload, error) {
	var p DestroyPayload
	if len(data) != 6 {
		return p, errors.CodecError(fmt.Sprintf("DESTROY payload must be 6 bytes, got %d", len(data)), nil)
	}
	p.CircuitID = binary.BigEndian.Uint32(data[0:4])
	p.Reason = binary.BigEndian.Uint16(data[4:6])
	return p, nil
}
