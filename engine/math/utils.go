package math

import (
	"encoding/binary"
	m "math"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds size up to a multiple of alignment (a power of two).
func AlignUp[T constraints.Unsigned](size, alignment T) T {
	return (size + alignment - 1) &^ (alignment - 1)
}

// AppendFloat32s appends the little-endian encoding of values to dst.
func AppendFloat32s(dst []byte, values ...float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, m.Float32bits(v))
	}
	return dst
}

// Bytes returns the matrix as 64 little-endian bytes, ready for a uniform buffer.
func (mt Mat4) Bytes() []byte {
	return AppendFloat32s(make([]byte, 0, 64), mt.Data[:]...)
}
