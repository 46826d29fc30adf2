package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/piece"
)

type fakePeer struct {
	key     string
	owned   map[uint32]bool
	choking bool
}

func (f *fakePeer) Key() string        { return f.key }
func (f *fakePeer) Owns(i uint32) bool { return f.owned[i] }
func (f *fakePeer) PeerChoking() bool  { return f.choking }

func newPieces(n int, length int64) []*piece.Piece {
	ps := make([]*piece.Piece, n)
	for i := range ps {
		ps[i] = piece.New(uint32(i), length, true)
	}
	return ps
}

func TestChokingPeerGetsNothing(t *testing.T) {
	ps := newPieces(1, piece.BlockSize)
	s := New(ps)
	pv := &fakePeer{key: "a", owned: map[uint32]bool{0: true}, choking: true}
	assert.Nil(t, s.AssignBlocks(pv), "expected no blocks from a choking peer")
}

func TestSingleOutboundPieceOutsideEndgame(t *testing.T) {
	ps := newPieces(20, piece.BlockSize) // > endgame threshold, no endgame
	for _, p := range ps {
		p.AddOwner("a")
	}
	s := New(ps)
	pv := &fakePeer{key: "a", owned: map[uint32]bool{}, choking: false}
	for i := range ps {
		pv.owned[uint32(i)] = true
	}
	blocks := s.AssignBlocks(pv)
	require.NotEmpty(t, blocks, "expected some blocks assigned")
	first := blocks[0].Index
	for _, b := range blocks {
		assert.Equal(t, first, b.Index, "expected a single active piece outside endgame")
	}
}

func TestEndgameDuplicatesAndCancels(t *testing.T) {
	ps := newPieces(3, piece.BlockSize) // <= endgame threshold
	ps[0].AddOwner("a")
	ps[0].AddOwner("b")
	s := New(ps)
	require.True(t, s.Endgame(), "expected endgame with 3 interesting pieces")
	pvA := &fakePeer{key: "a", owned: map[uint32]bool{0: true}}
	pvB := &fakePeer{key: "b", owned: map[uint32]bool{0: true}}
	s.AssignBlocks(pvA)
	s.AssignBlocks(pvB)

	// The caller marks the block present before reporting it, as the
	// swarm's handlePiece does.
	ps[0].MarkBlock(0)
	complete, cancel := s.GotBlock(0, 0, "a")
	require.True(t, complete, "expected single-block piece complete")
	require.Len(t, cancel, 1)
	assert.Equal(t, "b", cancel[0], "expected cancel for peer b")
}

func TestTickReportsTimeouts(t *testing.T) {
	ps := newPieces(1, piece.BlockSize)
	ps[0].AddOwner("a")
	s := New(ps)
	pv := &fakePeer{key: "a", owned: map[uint32]bool{0: true}}
	s.AssignBlocks(pv)
	future := time.Now().Add(35 * time.Second)
	timeouts := s.Tick(future)
	assert.Len(t, timeouts, 1)
}

func TestHashFailureReturnsContributors(t *testing.T) {
	ps := newPieces(1, piece.BlockSize)
	ps[0].AddOwner("a")
	s := New(ps)
	pv := &fakePeer{key: "a", owned: map[uint32]bool{0: true}}
	s.AssignBlocks(pv)
	contributors := s.HandleHashFailure(0)
	require.Len(t, contributors, 1)
	assert.Equal(t, "a", contributors[0], "expected peer a as contributor")
}
