package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/security"
)

// DataPayload is the DATA message body carried over an established
// circuit: circuit-id(4) | stream-id(2) | sequence(8) |
// payload(length-prefixed). The sequence field lets the receiving end of
// a tunnel stream reassemble datagrams in order and detect gaps.
type DataPayload struct {
	CircuitID uint32
	StreamID  uint16
	Sequence  uint64
	Payload   []byte
}

// EncodeData serializes a DataPayload to its bit-exact wire form. Unlike
// the circuit messages, the payload here is not a fixed-size key and can
// in principle grow past what a 2-byte length prefix can address, so the
// length is validated rather than silently truncated.
func EncodeData(p DataPayload) ([]byte, error) {
	if _, err := security.SafeLenToUint16(p.Payload); err != nil {
		return nil, errors.CodecError("DATA payload too large to frame", err)
	}

	buf := make([]byte, 0, 14+len(p.Payload))
	var hdr [14]byte
	binary.BigEndian.PutUint32(hdr[0:4], p.CircuitID)
	binary.BigEndian.PutUint16(hdr[4:6], p.StreamID)
	binary.BigEndian.PutUint64(hdr[6:14], p.Sequence)
	buf = append(buf, hdr[:]...)
	buf = writeLengthPrefixed(buf, p.Payload)
	return buf, nil
}

// DecodeData parses a DATA payload.
func DecodeData(data []byte) (DataPayload, error) {
	var p DataPayload
	if len(data) < 14 {
		return p, errors.CodecError(fmt.Sprintf("DATA payload shorter than 14-byte header, got %d", len(data)), nil)
	}
	p.CircuitID = binary.BigEndian.Uint32(data[0:4])
	p.StreamID = binary.BigEndian.Uint16(data[4:6])
	p.Sequence = binary.BigEndian.Uint64(data[6:14])

	payload, _, err := readLengthPrefixed(data[14:], 0)
	if err != nil {
		return p, errors.CodecError("DATA payload body", err)
	}
	p.Payload = append([]byte(nil), payload...)

	return p, nil
}
