package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tribler-go/tunnelcore/pkg/errors"
)

// SocketAddressLen is the wire size of an IPv4 address tuple: 4-byte IP,
// 2-byte port, big-endian.
const SocketAddressLen = 6

// SocketAddress is an IPv4/port pair as it appears on the wire.
type SocketAddress struct {
	IPv4 uint32
	Port uint16
}

func encodeSocketAddress(buf []byte, a SocketAddress) []byte {
	var tmp [SocketAddressLen]byte
	binary.BigEndian.PutUint32(tmp[0:4], a.IPv4)
	binary.BigEndian.PutUint16(tmp[4:6], a.Port)
	return append(buf, tmp[:]...)
}

func decodeSocketAddress(data []byte) (SocketAddress, []byte, error) {
	if len(data) < SocketAddressLen {
		return SocketAddress{}, nil, errors.CodecError("truncated socket address", nil)
	}
	a := SocketAddress{
		IPv4: binary.BigEndian.Uint32(data[0:4]),
		Port: binary.BigEndian.Uint16(data[4:6]),
	}
	return a, data[SocketAddressLen:], nil
}

// IntroRequestFlags are the single flag byte bits carried in an
// introduction-request.
type IntroRequestFlags byte

const (
	// FlagAdvicePunctureFirst requests the peer puncture before connecting.
	FlagAdvicePunctureFirst IntroRequestFlags = 1 << 0
)

// IntroRequestPayload is the introduction-request body: three 6-byte socket
// addresses (destination, source-LAN, source-WAN) + 1 byte flags + 2-byte
// identifier = 21 bytes.
type IntroRequestPayload struct {
	Destination IntroRequestPayloadAddr
	SourceLAN   IntroRequestPayloadAddr
	SourceWAN   IntroRequestPayloadAddr
	Flags       IntroRequestFlags
	Identifier  uint16
}

// IntroRequestPayloadAddr is an alias kept distinct from SocketAddress so
// callers can't accidentally swap destination/source arguments.
type IntroRequestPayloadAddr = SocketAddress

// IntroRequestWireLen is the fixed wire size of an introduction-request
// payload: 3*6 + 1 + 2 = 21 bytes.
const IntroRequestWireLen = 3*SocketAddressLen + 1 + 2

// EncodeIntroRequest serializes an IntroRequestPayload.
func EncodeIntroRequest(p IntroRequestPayload) []byte {
	buf := make([]byte, 0, IntroRequestWireLen)
	buf = encodeSocketAddress(buf, p.Destination)
	buf = encodeSocketAddress(buf, p.SourceLAN)
	buf = encodeSocketAddress(buf, p.SourceWAN)
	buf = append(buf, byte(p.Flags))
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], p.Identifier)
	buf = append(buf, idBuf[:]...)
	return buf
}

// DecodeIntroRequest parses an introduction-request payload.
func DecodeIntroRequest(data []byte) (IntroRequestPayload, error) {
	var p IntroRequestPayload
	if len(data) != IntroRequestWireLen {
		return p, errors.CodecError(fmt.Sprintf("introduction-request must be %d bytes, got %d", IntroRequestWireLen, len(data)), nil)
	}

	dest, rest, err := decodeSocketAddress(data)
	if err != nil {
		return p, err
	}
	p.Destination = dest

	lan, rest, err := decodeSocketAddress(rest)
	if err != nil {
		return p, err
	}
	p.SourceLAN = lan

	wan, rest, err := decodeSocketAddress(rest)
	if err != nil {
		return p, err
	}
	p.SourceWAN = wan

	p.Flags = IntroRequestFlags(rest[0])
	p.Identifier = binary.BigEndian.Uint16(rest[1:3])

	return p, nil
}

// IntroResponseHasCandidate is the flag bit in IntroResponsePayload.Flags
// indicating Candidate is populated.
const IntroResponseHasCandidate byte = 1 << 0

// IntroResponseWireLen is the fixed wire size of an introduction-response
// payload: 2-byte identifier + 1-byte flags + 6-byte candidate address.
const IntroResponseWireLen = 2 + 1 + SocketAddressLen

// IntroResponsePayload answers an IntroRequest. Candidate is only
// meaningful when Flags has IntroResponseHasCandidate set; it names a
// third-party peer the sender suggests as a NAT-puncture target.
type IntroResponsePayload struct {
	Identifier uint16
	Flags      byte
	Candidate  SocketAddress
}

// HasCandidate reports whether a third-party puncture candidate was
// offered.
func (p IntroResponsePayload) HasCandidate() bool {
	return p.Flags&IntroResponseHasCandidate != 0
}

// EncodeIntroResponse serializes an IntroResponsePayload.
func EncodeIntroResponse(p IntroResponsePayload) []byte {
	buf := make([]byte, 0, IntroResponseWireLen)
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], p.Identifier)
	buf = append(buf, idBuf[:]...)
	buf = append(buf, p.Flags)
	buf = encodeSocketAddress(buf, p.Candidate)
	return buf
}

// DecodeIntroResponse parses an introduction-response payload.
func DecodeIntroResponse(data []byte) (IntroResponsePayload, error) {
	var p IntroResponsePayload
	if len(data) != IntroResponseWireLen {
		return p, errors.CodecError(fmt.Sprintf("introduction-response must be %d bytes, got %d", IntroResponseWireLen, len(data)), nil)
	}
	p.Identifier = binary.BigEndian.Uint16(data[0:2])
	p.Flags = data[2]
	candidate, _, err := decodeSocketAddress(data[3:])
	if err != nil {
		return p, err
	}
	p.Candidate = candidate
	return p, nil
}

// PunctureRequestWireLen is the fixed wire size of a puncture-request
// payload: 2-byte identifier + 6-byte target address.
const PunctureRequestWireLen = 2 + SocketAddressLen

// PunctureRequestPayload asks its recipient to send a Puncture datagram
// to Target, the candidate named in a prior IntroResponse.
type PunctureRequestPayload struct {
	Identifier uint16
	Target     SocketAddress
}

// EncodePunctureRequest serializes a PunctureRequestPayload.
func EncodePunctureRequest(p PunctureRequestPayload) []byte {
	buf := make([]byte, 0, PunctureRequestWireLen)
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], p.Identifier)
	buf = append(buf, idBuf[:]...)
	buf = encodeSocketAddress(buf, p.Target)
	return buf
}

// DecodePunctureRequest parses a puncture-request payload.
func DecodePunctureRequest(data []byte) (PunctureRequestPayload, error) {
	var p PunctureRequestPayload
	if len(data) != PunctureRequestWireLen {
		return p, errors.CodecError(fmt.Sprintf("puncture-request must be %d bytes, got %d", PunctureRequestWireLen, len(data)), nil)
	}
	p.Identifier = binary.BigEndian.Uint16(data[0:2])
	target, _, err := decodeSocketAddress(data[2:])
	if err != nil {
		return p, err
	}
	p.Target = target
	return p, nil
}

// PunctureWireLen is the fixed wire size of a puncture payload: a bare
// 2-byte identifier. Its arrival, not its content, is the signal.
const PunctureWireLen = 2

// PuncturePayload is the hole-punch datagram itself.
type PuncturePayload struct {
	Identifier uint16
}

// EncodePuncture serializes a PuncturePayload.
func EncodePuncture(p PuncturePayload) []byte {
	buf := make([]byte, PunctureWireLen)
	binary.BigEndian.PutUint16(buf, p.Identifier)
	return buf
}

// DecodePuncture parses a puncture payload.
func DecodePuncture(data []byte) (PuncturePayload, error) {
	var p PuncturePayload
	if len(data) != PunctureWireLen {
		return p, errors.CodecError(fmt.Sprintf("puncture must be %d bytes, got %d", PunctureWireLen, len(data)), nil)
	}
	p.Identifier = binary.BigEndian.Uint16(data)
	return p, nil
}
