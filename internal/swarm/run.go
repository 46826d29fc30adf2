package swarm

import (
	"time"

	"github.com/arktorrent/swarm/internal/announcer"
	"github.com/arktorrent/swarm/internal/choker"
	"github.com/arktorrent/swarm/internal/tracker"
	"github.com/arktorrent/swarm/internal/verifier"
)

// Run executes the full supervisor lifecycle: verify existing data,
// announce started, dial/accept peers, and drive the
// scheduler/choker/announce tickers until Stop is called. It returns once
// shutdown (stopped announce, peer teardown, store flush) has completed.
func (t *Torrent) Run() {
	defer close(t.stoppedC)

	if err := t.store.Open(); err != nil {
		se := StorageError{Err: err}
		t.log.Errorln(se.Error())
		t.lastErr = se.Error()
		select {
		case t.stateC <- State{InfoHash: t.info.InfoHash, Name: t.info.Name, Err: t.lastErr}:
		default:
		}
		return
	}
	t.verifier = verifier.New(t.info, t.store)

	t.runStartupVerification()

	interval := DefaultAnnounceInterval

	req := tracker.AnnounceRequest{
		InfoHash: t.info.InfoHash,
		PeerID:   t.ourID,
		Port:     t.listenPort,
		Left:     t.leftBytes(),
		Event:    tracker.EventStarted,
		NumWant:  -1,
	}
	if res := t.announcer.AnnounceUntilSuccess(req, t.stopC); res != nil {
		if res.Response.Interval > 0 {
			interval = res.Response.Interval
		}
		t.dialFromAnnounce(res)
	} else {
		// AnnounceUntilSuccess only returns nil if stopC fired before any
		// tracker answered.
		return
	}

	unchokeTicker := time.NewTicker(choker.UnchokeInterval)
	defer unchokeTicker.Stop()
	optimisticTicker := time.NewTicker(choker.OptimisticUnchokeInterval)
	defer optimisticTicker.Stop()
	schedTicker := time.NewTicker(time.Second)
	defer schedTicker.Stop()
	rateTicker := time.NewTicker(5 * time.Second)
	defer rateTicker.Stop()
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()
	announceTicker := time.NewTicker(interval)
	defer announceTicker.Stop()

	t.publishState()

	for {
		select {
		case <-t.stopC:
			t.shutdown()
			return

		case <-t.pauseC:
			t.paused = true

		case <-t.resumeC:
			t.paused = false

		case p := <-t.addPeerC:
			t.addPeer(p)

		case p := <-t.peerDoneC:
			t.removePeer(p)

		case pm := <-t.peerMsgC:
			t.handleMessage(pm)

		case <-unchokeTicker.C:
			t.runChoke()

		case <-optimisticTicker.C:
			t.runOptimistic()

		case <-schedTicker.C:
			if !t.paused {
				t.runSchedulerTick()
			}

		case <-rateTicker.C:
			for _, pa := range t.peers {
				pa.peer.DownloadRate.Tick()
				pa.peer.UploadRate.Tick()
			}

		case <-announceTicker.C:
			t.fireAnnounce()

		case res := <-t.announceResultC:
			if res == nil {
				t.lastErr = TrackerError{Err: errNoTrackerAnswered}.Error()
				break
			}
			t.lastErr = ""
			if res.Response.Interval > 0 {
				announceTicker.Reset(res.Response.Interval)
			}
			t.dialFromAnnounce(res)

		case r := <-t.verifier.ResultC:
			t.handleVerifyResult(r)

		case <-statsTicker.C:
			t.publishState()
		}

		if !t.completed && t.allDone() {
			t.completed = true
			t.fireCompletedAnnounce()
		}
	}
}

func (t *Torrent) runStartupVerification() {
	var selected []uint32
	for _, p := range t.pieces {
		if p.Selected {
			selected = append(selected, p.Index)
		}
	}
	resultsC := make(chan []verifier.Result, 1)
	t.verifier.RunStartupScan(selected, resultsC)
	results := <-resultsC
	for _, r := range results {
		p := t.pieces[r.Index]
		if r.OK {
			p.Done = true
			for i := range p.Blocks {
				p.MarkBlock(uint32(i))
			}
		} else {
			p.Reset()
		}
	}
}

func (t *Torrent) dialFromAnnounce(res *announcer.Result) {
	room := t.maxOutboundPeers
	for _, pa := range t.peers {
		if pa.peer.Outgoing {
			room--
		}
	}
	for _, addr := range res.Response.Peers {
		if room <= 0 {
			break
		}
		key := addr.String()
		if until, onCooldown := t.cooldown[key]; onCooldown {
			if time.Now().Before(until) {
				continue
			}
			delete(t.cooldown, key)
		}
		t.dialPeer(key)
		room--
	}
}

func (t *Torrent) fireAnnounce() {
	req := tracker.AnnounceRequest{
		InfoHash:   t.info.InfoHash,
		PeerID:     t.ourID,
		Port:       t.listenPort,
		Uploaded:   t.uploaded,
		Downloaded: t.downloaded,
		Left:       t.leftBytes(),
		Event:      tracker.EventNone,
		NumWant:    -1,
	}
	go func() {
		res := t.announcer.AnnounceOnce(req)
		select {
		case t.announceResultC <- res:
		case <-t.stopC:
		}
	}()
}

func (t *Torrent) fireCompletedAnnounce() {
	req := tracker.AnnounceRequest{
		InfoHash: t.info.InfoHash,
		PeerID:   t.ourID,
		Port:     t.listenPort,
		Uploaded: t.uploaded,
		Left:     0,
		Event:    tracker.EventCompleted,
		NumWant:  -1,
	}
	go t.announcer.AnnounceOnce(req)
}

func (t *Torrent) shutdown() {
	t.announcer.StopAnnounce(tracker.AnnounceRequest{
		InfoHash: t.info.InfoHash,
		PeerID:   t.ourID,
		Port:     t.listenPort,
		Left:     t.leftBytes(),
	})
	for _, pa := range t.peers {
		pa.peer.Close()
	}
	t.store.Close()
}

