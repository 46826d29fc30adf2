package piece

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBlockLayoutShortLast(t *testing.T) {
	p := New(0, BlockSize+100, true)
	assert.EqualValues(t, 2, p.NumBlocks())
	assert.EqualValues(t, 100, p.Blocks[1].Length, "expected short last block of 100 bytes")
}

func TestCompleteAndReset(t *testing.T) {
	p := New(0, BlockSize*2, true)
	assert.False(t, p.Complete(), "fresh piece should not be complete")
	p.MarkBlock(0)
	p.MarkBlock(1)
	assert.True(t, p.Complete(), "expected piece complete after all blocks present")
	p.Done = true
	p.Reset()
	assert.False(t, p.Done, "reset should clear done")
	assert.False(t, p.Complete(), "reset should clear presence")
}

func TestOwners(t *testing.T) {
	p := New(0, BlockSize, true)
	p.AddOwner("peer-a")
	_, ok := p.Owners["peer-a"]
	assert.True(t, ok, "expected owner recorded")
	p.RemoveOwner("peer-a")
	_, ok = p.Owners["peer-a"]
	assert.False(t, ok, "expected owner removed")
}
