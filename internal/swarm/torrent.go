// Package swarm is the per-torrent supervisor: a single reactor goroutine
// that owns the piece set, the peer roster, and the scheduler/choker
// decisions, driven entirely off channels. Everything
// below Run (and the handlers in run.go and peers.go) executes on that one goroutine;
// every other exported method only ever sends on a channel.
package swarm

import (
	"net"
	"time"

	"github.com/arktorrent/swarm/internal/announcer"
	"github.com/arktorrent/swarm/internal/bitfield"
	"github.com/arktorrent/swarm/internal/choker"
	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/metainfo"
	"github.com/arktorrent/swarm/internal/peerconn"
	"github.com/arktorrent/swarm/internal/peerprotocol"
	"github.com/arktorrent/swarm/internal/piece"
	"github.com/arktorrent/swarm/internal/scheduler"
	"github.com/arktorrent/swarm/internal/storage/filestorage"
	"github.com/arktorrent/swarm/internal/tracker"
	"github.com/arktorrent/swarm/internal/verifier"
)

// DefaultMaxOutboundPeers caps the number of connections we initiate
// ourselves, independent of however many inbound peers we accept.
const DefaultMaxOutboundPeers = 50

// DistrustThreshold is how many distrust points (one per three request
// timeouts, one per hash-failure contribution) a peer accumulates before it
// is disconnected. The address is not barred from being dialed or accepted
// again afterwards.
const DistrustThreshold = 3

// DefaultAnnounceInterval is used for the periodic announce ticker before
// any tracker has told us otherwise.
const DefaultAnnounceInterval = 30 * time.Minute

// State is a point-in-time snapshot published to control-plane subscribers.
type State struct {
	InfoHash   [20]byte
	Name       string
	Completed  bool
	Paused     bool
	Downloaded int64
	Uploaded   int64
	Left       int64
	NumPeers   int
	// Err carries the last unrecoverable error's message (e.g. a
	// StorageError), if any. Empty once the torrent is healthy again.
	Err string
}

type peerMsg struct {
	peer *peerconn.Peer
	msg  peerprotocol.Message
}

// peerAdapter is the single type through which the reactor exposes a
// peerconn.Peer to both the scheduler and the choker, without either of
// those packages importing peerconn, keeping piece selection and choke
// policy free of transport concerns.
type peerAdapter struct {
	peer    *peerconn.Peer
	seeding func() bool
}

func (a *peerAdapter) Key() string               { return a.peer.String() }
func (a *peerAdapter) Owns(idx uint32) bool       { return a.peer.PieceBitfield.Test(idx) }
func (a *peerAdapter) PeerChoking() bool          { return a.peer.PeerChoking }
func (a *peerAdapter) Interested() bool           { return a.peer.PeerInterested }
func (a *peerAdapter) OptimisticallyUnchoked() bool { return a.peer.OptimisticUnchoked }
func (a *peerAdapter) Rate() float64 {
	if a.seeding() {
		return a.peer.UploadRate.Rate()
	}
	return a.peer.DownloadRate.Rate()
}

// Torrent supervises one torrent's full lifecycle: verification, announce,
// peer management, piece scheduling and choking. It is created once per
// added torrent by the control plane and run on its own goroutine.
type Torrent struct {
	info        *metainfo.Info
	ourID       [20]byte
	downloadDir string
	listenPort  uint16

	store     *filestorage.FileStorage
	verifier  *verifier.Verifier
	sched     *scheduler.Scheduler
	chk       *choker.Choker
	announcer *announcer.Announcer
	pieces    []*piece.Piece
	log       logger.Logger

	maxOutboundPeers int
	peers            map[string]*peerAdapter
	completed        bool
	paused           bool
	lastErr          string
	uploaded         int64
	downloaded       int64

	// cooldown holds addresses of peers that disconnected with a
	// TransportError, until the time they may be re-dialed.
	cooldown map[string]time.Time

	addPeerC        chan *peerconn.Peer
	peerMsgC        chan peerMsg
	peerDoneC       chan *peerconn.Peer
	pauseC          chan struct{}
	resumeC         chan struct{}
	stopC           chan struct{}
	stoppedC        chan struct{}
	announceResultC chan *announcer.Result
	stateC          chan State
}

// New builds a Torrent ready to Run. A resume.Spec's bitfield is not
// trusted directly — Run always re-verifies every selected piece against
// disk at startup — so resuming only needs the roster entry, not the
// bitfield itself; New takes no bitfield parameter for that reason.
func New(info *metainfo.Info, downloadDir string, ourID [20]byte, listenPort uint16, trackerTiers [][]tracker.Tracker, log logger.Logger) *Torrent {
	pieces := make([]*piece.Piece, info.NumPieces())
	for i := range pieces {
		pieces[i] = piece.New(uint32(i), info.PieceLengthAt(i), true)
	}
	return &Torrent{
		info:             info,
		ourID:            ourID,
		downloadDir:      downloadDir,
		listenPort:       listenPort,
		store:            filestorage.New(info, downloadDir),
		sched:            scheduler.New(pieces),
		chk:              choker.New(),
		announcer:        announcer.New(trackerTiers, log),
		pieces:           pieces,
		log:              log.WithField("torrent", info.Name),
		maxOutboundPeers: DefaultMaxOutboundPeers,
		peers:            make(map[string]*peerAdapter),
		cooldown:         make(map[string]time.Time),
		addPeerC:         make(chan *peerconn.Peer),
		peerMsgC:         make(chan peerMsg),
		peerDoneC:        make(chan *peerconn.Peer),
		pauseC:           make(chan struct{}),
		resumeC:          make(chan struct{}),
		stopC:            make(chan struct{}),
		stoppedC:         make(chan struct{}),
		announceResultC:  make(chan *announcer.Result, 1),
		stateC:           make(chan State, 1),
	}
}

// InfoHash returns the torrent's info_hash.
func (t *Torrent) InfoHash() [20]byte { return t.info.InfoHash }

// SetMaxOutboundPeers overrides DefaultMaxOutboundPeers. Must be called
// before Run.
func (t *Torrent) SetMaxOutboundPeers(n int) {
	if n > 0 {
		t.maxOutboundPeers = n
	}
}

// Subscribe returns the channel the control plane reads State snapshots
// from. Only the most recent snapshot is ever buffered.
func (t *Torrent) Subscribe() <-chan State { return t.stateC }

// Pause stops requesting blocks without dropping peers or the tracker
// announce cycle.
func (t *Torrent) Pause() {
	select {
	case t.pauseC <- struct{}{}:
	case <-t.stoppedC:
	}
}

// Resume undoes Pause.
func (t *Torrent) Resume() {
	select {
	case t.resumeC <- struct{}{}:
	case <-t.stoppedC:
	}
}

// Stop requests a graceful shutdown and blocks until Run has returned.
func (t *Torrent) Stop() {
	select {
	case <-t.stopC:
	default:
		close(t.stopC)
	}
	<-t.stoppedC
}

// AddIncomingPeer completes the handshake on an already-accepted inbound
// socket and, if it succeeds, hands the peer to the reactor. Called by the
// control plane's shared listener once it has peeked the info_hash and
// matched it to this Torrent.
func (t *Torrent) AddIncomingPeer(conn net.Conn) {
	go func() {
		p, err := peerconn.Accept(conn, t.info.InfoHash, t.ourID, uint32(len(t.pieces)), t.log)
		if err != nil {
			t.log.Debugln("inbound handshake failed:", err)
			return
		}
		select {
		case t.addPeerC <- p:
		case <-t.stopC:
			go p.Run()
			p.Close()
		}
	}()
}

func (t *Torrent) dialPeer(addr string) {
	go func() {
		p, err := peerconn.Dial(addr, t.info.InfoHash, t.ourID, nil, uint32(len(t.pieces)), t.log)
		if err != nil {
			t.log.Debugln("dial failed:", addr, err)
			return
		}
		select {
		case t.addPeerC <- p:
		case <-t.stopC:
			go p.Run()
			p.Close()
		}
	}()
}

func (t *Torrent) leftBytes() int64 {
	var left int64
	for _, p := range t.pieces {
		if p.Selected && !p.Done {
			left += p.Length
		}
	}
	return left
}

func (t *Torrent) allDone() bool {
	for _, p := range t.pieces {
		if p.Selected && !p.Done {
			return false
		}
	}
	return true
}

func (t *Torrent) localBitfield() *bitfield.Bitfield {
	bf := bitfield.New(uint32(len(t.pieces)))
	for _, p := range t.pieces {
		if p.Done {
			bf.Set(p.Index)
		}
	}
	return bf
}
