//go:build release

package as

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func Uint16[T Integer](v T) uint16 {
	return uint16(v)
}

func Uint32[T Integer](v T) uint32 {
	return uint32(v)
}

func Int64[T Integer](v T) int64 {
	return int64(v)
}
