package piecedownloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/piece"
)

func TestNextBlocksRespectsPipeline(t *testing.T) {
	pi := piece.New(0, piece.BlockSize*20, true)
	d := New(pi, "peer-a")
	blocks := d.NextBlocks(100)
	require.Len(t, blocks, Pipeline)
	assert.Zero(t, d.Room(), "expected no room left")
}

func TestGotBlockFreesRoom(t *testing.T) {
	pi := piece.New(0, piece.BlockSize*3, true)
	d := New(pi, "peer-a")
	blocks := d.NextBlocks(100)
	require.Len(t, blocks, 3)
	d.GotBlock(blocks[0].Index)
	assert.EqualValues(t, 8, d.Room(), "expected room 8 after completing one of 3 (pipeline 10, 2 still pending)")
}

func TestTimedOut(t *testing.T) {
	pi := piece.New(0, piece.BlockSize, true)
	d := New(pi, "peer-a")
	d.NextBlocks(1)
	assert.Empty(t, d.TimedOut(time.Now()), "should not be timed out immediately")
	future := time.Now().Add(RequestTimeout + time.Second)
	assert.Len(t, d.TimedOut(future), 1, "expected one timed-out block after the request timeout elapses")
}
