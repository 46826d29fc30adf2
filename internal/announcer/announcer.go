// Package announcer couples torrent lifecycle events (started, periodic,
// completed, stopped) to the tracker tiers, rotating within and across
// tiers on failure per BEP 12.
package announcer

import (
	"math/rand"
	"time"

	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/tracker"
)

// RetryDelay is how long the announcer sleeps after every tier in every
// tier-group has failed, before trying the whole set again.
const RetryDelay = 3 * time.Second

// Result is the outcome of one successful announce.
type Result struct {
	Response *tracker.AnnounceResponse
	Tracker  tracker.Tracker
}

// Announcer owns the ordered tiers of trackers for one torrent and knows
// how to walk them for a single announce attempt.
type Announcer struct {
	tiers [][]tracker.Tracker
	log   logger.Logger
	rng   *rand.Rand
}

// New returns an Announcer over tiers, shuffled within each tier per
// BEP 12.
func New(tiers [][]tracker.Tracker, log logger.Logger) *Announcer {
	a := &Announcer{tiers: tiers, log: log, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, tier := range a.tiers {
		a.rng.Shuffle(len(tier), func(i, j int) { tier[i], tier[j] = tier[j], tier[i] })
	}
	return a
}

// AnnounceOnce walks tiers in order, and within a tier walks URLs in
// order, returning on the first success. The successful tracker is
// promoted to the head of its tier. Returns nil if every tier's every URL
// failed this round.
func (a *Announcer) AnnounceOnce(req tracker.AnnounceRequest) *Result {
	for _, tier := range a.tiers {
		for i, tr := range tier {
			resp, err := tr.Announce(req)
			if err != nil {
				a.log.WithField("tracker", tr.URL()).Debugln("announce failed:", err)
				continue
			}
			if i != 0 {
				copy(tier[1:i+1], tier[0:i])
				tier[0] = tr
			}
			return &Result{Response: resp, Tracker: tr}
		}
	}
	return nil
}

// AnnounceUntilSuccess retries AnnounceOnce with RetryDelay between full
// passes over every tier, forever, unless stopC is closed. The swarm
// supervisor uses this for the mandatory "started" announce it must await
// before any peer work begins.
func (a *Announcer) AnnounceUntilSuccess(req tracker.AnnounceRequest, stopC <-chan struct{}) *Result {
	for {
		if r := a.AnnounceOnce(req); r != nil {
			return r
		}
		select {
		case <-time.After(RetryDelay):
		case <-stopC:
			return nil
		}
	}
}

// StopAnnounce performs one best-effort "stopped" announce with at most
// one retry (best-effort, at most one retry).
func (a *Announcer) StopAnnounce(req tracker.AnnounceRequest) {
	req.Event = tracker.EventStopped
	if r := a.AnnounceOnce(req); r != nil {
		return
	}
	a.AnnounceOnce(req)
}
