package choker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePeer struct {
	key        string
	interested bool
	optimistic bool
	rate       float64
}

func (f *fakePeer) Key() string                 { return f.key }
func (f *fakePeer) Interested() bool             { return f.interested }
func (f *fakePeer) OptimisticallyUnchoked() bool { return f.optimistic }
func (f *fakePeer) Rate() float64                { return f.rate }

func TestDecideRanksByRate(t *testing.T) {
	c := New()
	c.UnchokedPeers = 2
	peers := []PeerView{
		&fakePeer{key: "slow", interested: true, rate: 1},
		&fakePeer{key: "fast", interested: true, rate: 100},
		&fakePeer{key: "mid", interested: true, rate: 50},
		&fakePeer{key: "uninterested", interested: false, rate: 1000},
	}
	unchoke := c.Decide(peers)
	assert.True(t, unchoke["fast"], "expected fast peer unchoked, got %v", unchoke)
	assert.True(t, unchoke["mid"], "expected mid peer unchoked, got %v", unchoke)
	assert.False(t, unchoke["slow"], "slow peer should remain choked (only top 2 slots)")
	_, ok := unchoke["uninterested"]
	assert.False(t, ok, "uninterested peer should not appear in the decision at all")
}

func TestRotateOptimisticPicksFromCandidates(t *testing.T) {
	c := New()
	peers := []PeerView{
		&fakePeer{key: "a", interested: true},
		&fakePeer{key: "b", interested: true},
	}
	unchoked, choked := c.RotateOptimistic(peers)
	assert.Len(t, unchoked, 1, "expected exactly 1 optimistic unchoke, got %v", unchoked)
	assert.Len(t, choked, 0, "expected nothing choked on first rotation, got %v", choked)
}
