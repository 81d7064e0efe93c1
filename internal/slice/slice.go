// Package slice maps resource content onto 1-based, fixed-size slices.
//
// Content of length L has Count(L) = ceil(L / proto.SliceSize) slices. Every
// slice but the last is exactly proto.SliceSize bytes; the last holds the
// remainder, which is a full slice when L is a multiple of the slice size.
package slice

import (
	"errors"
	"fmt"
	"io"
	"math"

	"udpfs/internal/pkg/as"
	"udpfs/internal/proto"
)

const Size = proto.SliceSize

// MaxLength is the longest content whose slice count fits the wire field.
const MaxLength int64 = math.MaxUint32 * Size

var ErrTooLarge = errors.New("content too large to slice")

func Count(length int64) uint32 {
	if length <= 0 {
		return 0
	}

	return as.Uint32((length + Size - 1) / Size)
}

// Bounds returns the byte range [begin, end) of slice k.
// Out of range slices, including slice 0, return an empty range.
func Bounds(length int64, k uint32) (begin, end int64) {
	if k == 0 || k > Count(length) {
		return 0, 0
	}

	begin = as.Int64(k-1) * Size
	end = min(begin+Size, length)

	return begin, end
}

// FromBytes returns slice k of data and the slice count of data.
func FromBytes(data []byte, k uint32) ([]byte, uint32) {
	total := Count(int64(len(data)))

	begin, end := Bounds(int64(len(data)), k)
	if begin == end {
		return nil, total
	}

	return data[begin:end], total
}

// FromReaderAt reads slice k of content with the given length from r,
// reading only that slice's bytes.
func FromReaderAt(r io.ReaderAt, length int64, k uint32) ([]byte, uint32, error) {
	if length > MaxLength {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, length)
	}

	total := Count(length)

	begin, end := Bounds(length, k)
	if begin == end {
		return nil, total, nil
	}

	buf := make([]byte, end-begin)

	n, err := r.ReadAt(buf, begin)
	if n == len(buf) {
		// ReadAt may report io.EOF together with a complete final read
		return buf, total, nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return nil, 0, fmt.Errorf("failed to read slice %d at offset %d: %w", k, begin, err)
}
