package proto

import (
	"errors"
	"fmt"
)

//go:generate stringer -type=Kind
type Kind byte

const (
	Request  Kind = 1
	Response Kind = 2
)

const (
	// MessageSize is the largest datagram either side sends.
	MessageSize = 400
	HeaderSize  = 19
	SliceSize   = MessageSize - HeaderSize

	DefaultPort = 6677
)

var ErrMalformedFrame = errors.New("malformed frame")

var (
	ErrShortFrame   = fmt.Errorf("%w: shorter than header", ErrMalformedFrame)
	ErrBodyOverflow = fmt.Errorf("%w: body length exceeds frame", ErrMalformedFrame)
	ErrChecksum     = fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)
)

var ErrBodyTooLarge = errors.New("body larger than slice size")

// Message is one datagram of the protocol.
//
// The wire field at offset 9 is shared by both kinds: a Request leaves it
// as zero padding, a Response carries the total number of slices of the
// resource there. Use TotalSlices on responses only.
type Message struct {
	Body     []byte
	total    uint32
	Slice    uint32
	Resource uint32
	Kind     Kind
}

// TotalSlices is the number of slices the resource is made of.
// Only meaningful when m.Kind is Response.
func (m Message) TotalSlices() uint32 {
	return m.total
}

// IsLast reports whether a response carries the final slice of its resource.
func (m Message) IsLast() bool {
	return m.Kind == Response && m.Slice == m.total
}
