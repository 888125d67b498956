package math

import "golang.org/x/exp/constraints"

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

// AlignUp rounds v up to the next multiple of mask+1. mask must be a power of two minus one.
func AlignUp[T constraints.Unsigned](v, mask T) T {
	return (v + mask) &^ mask
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
