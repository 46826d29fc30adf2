package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTestClear(t *testing.T) {
	b := New(10)
	assert.False(t, b.Test(3), "expected unset")
	b.Set(3)
	assert.True(t, b.Test(3), "expected set")
	b.Clear(3)
	assert.False(t, b.Test(3), "expected unset after clear")
}

func TestSpareBits(t *testing.T) {
	b := New(10) // 2 bytes, 6 spare bits
	assert.False(t, b.ZeroTrailingBitsSet(), "fresh bitfield should have zero spare bits")
	b.b[1] = 0x01 // set a spare bit
	assert.True(t, b.ZeroTrailingBitsSet(), "expected spare bit to be detected")
}

func TestCountAll(t *testing.T) {
	b := New(4)
	for i := uint32(0); i < 4; i++ {
		b.Set(i)
	}
	assert.EqualValues(t, 4, b.Count())
	assert.True(t, b.All(), "expected full bitfield")
}

func TestMSBFirstLayout(t *testing.T) {
	b := New(8)
	b.Set(0)
	assert.EqualValues(t, 0x80, b.Bytes()[0], "expected piece 0 to map to MSB")
}
