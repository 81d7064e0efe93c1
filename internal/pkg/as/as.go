//go:build !release

// runtime check int overflow

package as

import (
	"fmt"
	"math"
)

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func Uint16[T Integer](v T) uint16 {
	if v < 0 || uint64(v) > math.MaxUint16 {
		panic(fmt.Sprintf("%d overflow uint16", v))
	}

	return uint16(v)
}

func Uint32[T Integer](v T) uint32 {
	if v < 0 || uint64(v) > math.MaxUint32 {
		panic(fmt.Sprintf("%d overflow uint32", v))
	}

	return uint32(v)
}

func Int64[T Integer](v T) int64 {
	if v > 0 && uint64(v) > math.MaxInt64 {
		panic(fmt.Sprintf("%d overflow int64", v))
	}

	return int64(v)
}
