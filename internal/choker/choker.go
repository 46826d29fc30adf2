// Package choker implements the periodic unchoke decision: rank peers by
// observed throughput and unchoke the top K, plus a periodic optimistic
// unchoke rotation.
package choker

import (
	"math/rand"
	"sort"
	"time"
)

// DefaultUnchokedPeers is the number of regular-unchoke slots (K).
const DefaultUnchokedPeers = 4

// DefaultOptimisticUnchokedPeers is the number of optimistic-unchoke slots.
const DefaultOptimisticUnchokedPeers = 1

// UnchokeInterval is how often the regular ranking runs.
const UnchokeInterval = 10 * time.Second

// OptimisticUnchokeInterval is how often the optimistic slot rotates.
const OptimisticUnchokeInterval = 30 * time.Second

// PeerView is the mutable peer surface the choker acts on. Rate returns
// bytes/sec observed over the choker's ranking window: download rate while
// leeching, upload rate once complete (seed-mode ranking).
type PeerView interface {
	Key() string
	Interested() bool
	OptimisticallyUnchoked() bool
	Rate() float64
}

// Choker ranks peers and decides who to unchoke. It holds no peer state of
// its own between ticks beyond the current optimistic set, so it can be
// driven entirely by the swarm's reactor loop.
type Choker struct {
	UnchokedPeers           int
	OptimisticUnchokedPeers int
	rng                     *rand.Rand

	optimistic map[string]struct{}
}

// New returns a Choker with the default slot counts.
func New() *Choker {
	return &Choker{
		UnchokedPeers:           DefaultUnchokedPeers,
		OptimisticUnchokedPeers: DefaultOptimisticUnchokedPeers,
		rng:                     rand.New(rand.NewSource(time.Now().UnixNano())),
		optimistic:              make(map[string]struct{}),
	}
}

// Decide ranks the given interested peers by Rate() (download rate while
// leeching, upload rate once seeding — the caller picks which by choosing
// what Rate() returns) and reports which peer keys should be unchoked.
// Peers currently in the optimistic-unchoke set are excluded from the
// ranked pool.
func (c *Choker) Decide(peers []PeerView) (unchoke map[string]bool) {
	unchoke = make(map[string]bool)
	var rankable []PeerView
	for _, p := range peers {
		if !p.Interested() {
			continue
		}
		if _, ok := c.optimistic[p.Key()]; ok {
			unchoke[p.Key()] = true
			continue
		}
		rankable = append(rankable, p)
	}
	sort.SliceStable(rankable, func(i, j int) bool {
		return rankable[i].Rate() > rankable[j].Rate()
	})
	for i, p := range rankable {
		unchoke[p.Key()] = i < c.UnchokedPeers
	}
	return unchoke
}

// RotateOptimistic picks a new set of optimistic-unchoke peers at random
// from candidates (interested and not already optimistic), replacing the
// previous set. Candidates that are already regularly unchoked are not
// excluded.
func (c *Choker) RotateOptimistic(candidates []PeerView) (newlyUnchoked, newlyChoked []string) {
	for key := range c.optimistic {
		newlyChoked = append(newlyChoked, key)
	}
	c.optimistic = make(map[string]struct{})

	pool := make([]PeerView, 0, len(candidates))
	for _, p := range candidates {
		if p.Interested() && !p.OptimisticallyUnchoked() {
			pool = append(pool, p)
		}
	}
	c.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	n := c.OptimisticUnchokedPeers
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		key := pool[i].Key()
		c.optimistic[key] = struct{}{}
		newlyUnchoked = append(newlyUnchoked, key)
	}
	return newlyUnchoked, newlyChoked
}
