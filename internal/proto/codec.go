package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/negrel/assert"

	"udpfs/internal/pkg/as"
)

// frame layout, all integers little endian
//
//	0      checksum
//	1..4   reserved
//	4      kind
//	5..9   slice
//	9..13  total slices
//	13..17 resource
//	17..19 body length
//	19..   body
const (
	offsetKind     = 4
	offsetSlice    = 5
	offsetTotal    = 9
	offsetResource = 13
	offsetBodyLen  = 17
)

// Checksum is the LRC of b: the two's complement of the wrapping byte sum.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}

	return ^sum + 1
}

func Encode(m Message) ([]byte, error) {
	return AppendEncode(make([]byte, 0, HeaderSize+len(m.Body)), m)
}

// AppendEncode appends the frame of m to dst.
func AppendEncode(dst []byte, m Message) ([]byte, error) {
	if len(m.Body) > SliceSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(m.Body))
	}

	start := len(dst)

	// checksum and reserved bytes, checksum is filled in last
	dst = append(dst, 0, 0, 0, 0)
	dst = append(dst, byte(m.Kind))
	dst = binary.LittleEndian.AppendUint32(dst, m.Slice)
	dst = binary.LittleEndian.AppendUint32(dst, m.total)
	dst = binary.LittleEndian.AppendUint32(dst, m.Resource)
	dst = binary.LittleEndian.AppendUint16(dst, as.Uint16(len(m.Body)))

	assert.Len(dst[start:], HeaderSize)

	dst = append(dst, m.Body...)
	dst[start] = Checksum(dst[start+offsetKind:])

	return dst, nil
}

// Decode parses the frame at the start of b. Bytes after the declared body are ignored,
// so b may be a whole receive buffer. The body is copied out of b.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(b))
	}

	bodyLen := int(binary.LittleEndian.Uint16(b[offsetBodyLen:HeaderSize]))
	if bodyLen > SliceSize || HeaderSize+bodyLen > len(b) {
		return Message{}, fmt.Errorf("%w: declared %d bytes, %d available", ErrBodyOverflow, bodyLen, len(b)-HeaderSize)
	}

	frame := b[:HeaderSize+bodyLen]
	if sum := Checksum(frame[offsetKind:]); sum != frame[0] {
		return Message{}, fmt.Errorf("%w: want %#02x got %#02x", ErrChecksum, sum, frame[0])
	}

	m := Message{
		Kind:     Kind(frame[offsetKind]),
		Slice:    binary.LittleEndian.Uint32(frame[offsetSlice:]),
		total:    binary.LittleEndian.Uint32(frame[offsetTotal:]),
		Resource: binary.LittleEndian.Uint32(frame[offsetResource:]),
	}

	if bodyLen != 0 {
		m.Body = make([]byte, bodyLen)
		copy(m.Body, frame[HeaderSize:])
	}

	return m, nil
}
