// Package wire provides bit-exact encoding and decoding of the tunnel
// protocol's UDP messages. All multi-byte integers are big-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tribler-go/tunnelcore/pkg/errors"
)

// Wire-format sizes, per the community/service prefix every message carries.
const (
	VersionByte   = 0x02
	CommunityLen  = 20
	PrefixLen     = 1 + CommunityLen + 1 + 1 // version | community | service | reserved
	PublicKeyLen  = 32
	EphemeralLen  = 32
	AuthLen       = 32 // fixed-width, no length prefix (CREATED/EXTENDED)
	MaxDatagram   = 65507
	LengthFieldSz = 2
)

// Message types occupy two distinct wire subprotocols that happen to share
// numeric values (spec.md §4.2): the handshake subprotocol (IntroRequest,
// IntroResponse, PunctureRequest, Puncture) and the circuit subprotocol
// (Create, Created, Extend, Extended, Destroy). Which table applies is
// determined by the Service byte in the message prefix. Modeling them as
// two Go types keeps that distinction explicit instead of overloading one
// enum with colliding values.

// IntroMsgType identifies a handshake-subprotocol payload.
type IntroMsgType byte

const (
	MsgIntroRequest    IntroMsgType = 0x01
	MsgIntroResponse   IntroMsgType = 0x02
	MsgPunctureRequest IntroMsgType = 0x03
	MsgPuncture        IntroMsgType = 0x04
)

// String renders a human-readable name, mirroring the teacher's
// Command.String().
func (m IntroMsgType) String() string {
	switch m {
	case MsgIntroRequest:
		return "INTRO_REQUEST"
	case MsgIntroResponse:
		return "INTRO_RESPONSE"
	case MsgPunctureRequest:
		return "PUNCTURE_REQUEST"
	case MsgPuncture:
		return "PUNCTURE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(m))
	}
}

// CircuitMsgType identifies a circuit-subprotocol payload.
type CircuitMsgType byte

const (
	MsgCreate   CircuitMsgType = 0x02
	MsgCreated  CircuitMsgType = 0x03
	MsgExtend   CircuitMsgType = 0x04
	MsgExtended CircuitMsgType = 0x05
	MsgData     CircuitMsgType = 0x06
	MsgDestroy  CircuitMsgType = 0x08
)

// String renders a human-readable name, mirroring the teacher's
// Command.String().
func (m CircuitMsgType) String() string {
	switch m {
	case MsgCreate:
		return "CREATE"
	case MsgCreated:
		return "CREATED"
	case MsgExtend:
		return "EXTEND"
	case MsgExtended:
		return "EXTENDED"
	case MsgData:
		return "DATA"
	case MsgDestroy:
		return "DESTROY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(m))
	}
}

// Service byte values distinguishing the two wire subprotocols that share
// overlapping message-type numbers (see the note above): a received frame's
// Prefix.Service says whether its message-type byte is an IntroMsgType or a
// CircuitMsgType.
const (
	ServiceHandshake byte = 0x01
	ServiceCircuit   byte = 0x02
)

// Prefix is the 23-byte community/service header shared by every message.
type Prefix struct {
	Version     byte
	CommunityID [CommunityLen]byte
	Service     byte
	Reserved    byte
}

// Encode writes the prefix followed by the message type byte.
func (p Prefix) Encode(msgType byte) []byte {
	buf := make([]byte, PrefixLen+1)
	buf[0] = VersionByte
	copy(buf[1:1+CommunityLen], p.CommunityID[:])
	buf[1+CommunityLen] = p.Service
	buf[2+CommunityLen] = p.Reserved
	buf[PrefixLen] = msgType
	return buf
}

// DecodePrefix parses the leading 23-byte prefix and the message-type byte.
// It returns Codec/Invalid if the buffer is too short or the version byte
// doesn't match. The caller interprets the returned byte as an IntroMsgType
// or CircuitMsgType depending on the Service field.
func DecodePrefix(data []byte) (Prefix, byte, []byte, error) {
	if len(data) < PrefixLen+1 {
		return Prefix{}, 0, nil, errors.CodecError("message shorter than wire prefix", nil)
	}
	if data[0] != VersionByte {
		return Prefix{}, 0, nil, errors.CodecError(fmt.Sprintf("unsupported version byte 0x%02x", data[0]), nil)
	}
	var p Prefix
	p.Version = data[0]
	copy(p.CommunityID[:], data[1:1+CommunityLen])
	p.Service = data[1+CommunityLen]
	p.Reserved = data[2+CommunityLen]
	msgType := data[PrefixLen]
	return p, msgType, data[PrefixLen+1:], nil
}

// readLengthPrefixed reads a 2-byte big-endian length followed by that many
// bytes, validating the declared length against the remaining buffer and
// against an expected fixed width when expectedLen > 0.
func readLengthPrefixed(data []byte, expectedLen int) (value []byte, rest []byte, err error) {
	if len(data) < LengthFieldSz {
		return nil, nil, errors.CodecError("truncated length prefix", nil)
	}
	n := int(binary.BigEndian.Uint16(data[:LengthFieldSz]))
	data = data[LengthFieldSz:]
	if n > len(data) {
		return nil, nil, errors.CodecError(fmt.Sprintf("length prefix %d exceeds remaining %d bytes", n, len(data)), nil)
	}
	if expectedLen > 0 && n != expectedLen {
		return nil, nil, errors.CodecError(fmt.Sprintf("expected length %d, got %d", expectedLen, n), nil)
	}
	return data[:n], data[n:], nil
}

func writeLengthPrefixed(buf []byte, value []byte) []byte {
	var lenBuf [LengthFieldSz]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, value...)
	return buf
}
