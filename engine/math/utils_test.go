package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(2), Clamp[uint32](1, 2, 3))
	assert.Equal(t, uint32(3), Clamp[uint32](9, 2, 3))
	assert.Equal(t, 2.5, Clamp(2.5, 0, 3))
}

func TestAlignUp(t *testing.T) {
	for _, align := range []uint64{1, 2, 4, 64, 256} {
		mask := align - 1
		for row := uint64(0); row < 1100; row += 7 {
			p := AlignUp(row, mask)
			assert.GreaterOrEqual(t, p, row)
			assert.Zero(t, p%align)
			assert.Less(t, p-row, align)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo[uint32](1))
	assert.True(t, IsPowerOfTwo[uint32](256))
	assert.False(t, IsPowerOfTwo[uint32](0))
	assert.False(t, IsPowerOfTwo[uint32](96))
}
