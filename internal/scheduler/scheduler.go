// Package scheduler decides which (peer, piece, block) requests to issue,
// implementing rarest-first selection, the single-outbound-piece-per-peer
// cap, endgame duplication, and per-block request timeouts.
package scheduler

import (
	"math/rand"
	"time"

	"github.com/arktorrent/swarm/internal/piece"
	"github.com/arktorrent/swarm/internal/piecedownloader"
)

// DefaultEndgameThreshold is the |interesting_pieces| count at or below
// which endgame mode engages.
const DefaultEndgameThreshold = 10

// PeerView is the read-only view of peer state the scheduler needs. The
// swarm's peer roster implements it; the scheduler never imports peerconn
// to avoid coupling piece selection to transport concerns.
type PeerView interface {
	Key() string
	Owns(pieceIndex uint32) bool
	PeerChoking() bool
}

// Scheduler tracks interesting pieces and in-flight assignments for one
// torrent.
type Scheduler struct {
	pieces           []*piece.Piece
	endgameThreshold int
	rng              *rand.Rand

	// downloaders[pieceIndex][peerKey] is the in-flight assignment of that
	// piece's blocks to that peer. Outside endgame a peer has at most one
	// entry across all pieces.
	downloaders map[uint32]map[string]*piecedownloader.PieceDownloader
	// peerActivePiece enforces "one outbound piece per peer" outside endgame.
	peerActivePiece map[string]uint32
}

// New returns a Scheduler over pieces (selected and unselected both; it
// filters by Selected/Done/Writing internally).
func New(pieces []*piece.Piece) *Scheduler {
	return &Scheduler{
		pieces:           pieces,
		endgameThreshold: DefaultEndgameThreshold,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		downloaders:      make(map[uint32]map[string]*piecedownloader.PieceDownloader),
		peerActivePiece:  make(map[string]uint32),
	}
}

// Interesting returns the pieces that are selected but not yet downloaded,
// i.e. interesting_pieces.
func (s *Scheduler) Interesting() []*piece.Piece {
	var out []*piece.Piece
	for _, p := range s.pieces {
		if p.Selected && !p.Done {
			out = append(out, p)
		}
	}
	return out
}

// Endgame reports whether the scheduler is in endgame mode: the number of
// interesting pieces has dropped to or below the endgame threshold.
func (s *Scheduler) Endgame() bool {
	return len(s.Interesting()) <= s.endgameThreshold && len(s.Interesting()) > 0
}

// candidatePieces returns interesting pieces owned by pv, excluding any
// under validation, in rarest-first order (fewest owners first) with a
// random shuffle to break ties so duplicate peers owning the same rare
// piece don't all pile onto it.
func (s *Scheduler) candidatePieces(pv PeerView) []*piece.Piece {
	var cand []*piece.Piece
	for _, p := range s.Interesting() {
		if p.Writing {
			continue
		}
		if !pv.Owns(p.Index) {
			continue
		}
		cand = append(cand, p)
	}
	s.rng.Shuffle(len(cand), func(i, j int) { cand[i], cand[j] = cand[j], cand[i] })
	// Stable rarity sort (insertion sort) after the shuffle, so
	// equally-rare pieces keep their randomized relative order.
	for i := 1; i < len(cand); i++ {
		for j := i; j > 0 && len(cand[j].Owners) < len(cand[j-1].Owners); j-- {
			cand[j], cand[j-1] = cand[j-1], cand[j]
		}
	}
	return cand
}

func (s *Scheduler) downloaderFor(p *piece.Piece, peerKey string) *piecedownloader.PieceDownloader {
	byPeer, ok := s.downloaders[p.Index]
	if !ok {
		byPeer = make(map[string]*piecedownloader.PieceDownloader)
		s.downloaders[p.Index] = byPeer
	}
	d, ok := byPeer[peerKey]
	if !ok {
		d = piecedownloader.New(p, peerKey)
		byPeer[peerKey] = d
	}
	return d
}

// AssignBlocks returns the blocks to request from pv right now, creating or
// reusing PieceDownloaders as needed. Outside endgame a peer is limited to
// one piece at a time; in endgame, blocks are requested for every
// interesting piece the peer owns (possibly duplicating other peers'
// requests for the same blocks).
func (s *Scheduler) AssignBlocks(pv PeerView) []piece.Block {
	if pv.PeerChoking() {
		return nil
	}
	var out []piece.Block

	if s.Endgame() {
		for _, p := range s.candidatePieces(pv) {
			d := s.downloaderFor(p, pv.Key())
			out = append(out, d.NextBlocks(d.Room())...)
		}
		return out
	}

	idx, hasActive := s.peerActivePiece[pv.Key()]
	var active *piece.Piece
	if hasActive {
		for _, p := range s.pieces {
			if p.Index == idx && p.Selected && !p.Done && !p.Writing {
				active = p
				break
			}
		}
	}
	if active == nil {
		cand := s.candidatePieces(pv)
		if len(cand) == 0 {
			delete(s.peerActivePiece, pv.Key())
			return nil
		}
		active = cand[0]
		s.peerActivePiece[pv.Key()] = active.Index
	}
	d := s.downloaderFor(active, pv.Key())
	out = append(out, d.NextBlocks(d.Room())...)
	if d.Done() {
		delete(s.peerActivePiece, pv.Key())
	}
	return out
}

// GotBlock records that blockIndex of piece pieceIndex arrived from
// peerKey. It returns whether the whole piece is now complete and, when in
// endgame, the set of other peers holding redundant in-flight requests for
// this piece so the caller can send them CANCEL.
func (s *Scheduler) GotBlock(pieceIndex, blockIndex uint32, peerKey string) (complete bool, cancelPeers []string) {
	byPeer, ok := s.downloaders[pieceIndex]
	if ok {
		if d, ok := byPeer[peerKey]; ok {
			d.GotBlock(blockIndex)
		}
	}
	var p *piece.Piece
	for _, pp := range s.pieces {
		if pp.Index == pieceIndex {
			p = pp
			break
		}
	}
	if p == nil {
		return false, nil
	}
	complete = p.Complete()
	if complete && s.Endgame() {
		for key := range byPeer {
			if key != peerKey {
				cancelPeers = append(cancelPeers, key)
			}
		}
	}
	return complete, cancelPeers
}

// HandleChoke revokes every pending assignment a peer holds, returning
// those pieces to the pool for reassignment on the next AssignBlocks call.
func (s *Scheduler) HandleChoke(peerKey string) {
	for _, byPeer := range s.downloaders {
		delete(byPeer, peerKey)
	}
	delete(s.peerActivePiece, peerKey)
}

// RemovePeer forgets all scheduler state for a disconnected peer; identical
// to HandleChoke today but kept distinct since disconnect may grow
// additional bookkeeping (e.g. cancelling in-flight writes) independently
// of choke handling.
func (s *Scheduler) RemovePeer(peerKey string) {
	s.HandleChoke(peerKey)
}

// Timeout is one block whose request went unanswered for RequestTimeout.
type Timeout struct {
	PieceIndex uint32
	BlockIndex uint32
	PeerKey    string
}

// Tick scans all in-flight assignments for requests older than
// piecedownloader.RequestTimeout, revokes them (returning the block to the
// pool), and reports them so the caller can bump the peer's distrust
// counter (three timeouts or one hash-failure contribution raises
// distrust by one).
func (s *Scheduler) Tick(now time.Time) []Timeout {
	var out []Timeout
	for pieceIndex, byPeer := range s.downloaders {
		for peerKey, d := range byPeer {
			for _, blockIndex := range d.TimedOut(now) {
				d.Revoke(blockIndex)
				out = append(out, Timeout{PieceIndex: pieceIndex, BlockIndex: blockIndex, PeerKey: peerKey})
			}
		}
	}
	return out
}

// HandleHashFailure resets a piece after a failed integrity check and
// returns the peer keys that had contributed blocks to it, which earn
// distrust.
func (s *Scheduler) HandleHashFailure(pieceIndex uint32) []string {
	var contributors []string
	if byPeer, ok := s.downloaders[pieceIndex]; ok {
		for peerKey := range byPeer {
			contributors = append(contributors, peerKey)
		}
		delete(s.downloaders, pieceIndex)
	}
	for peerKey, idx := range s.peerActivePiece {
		if idx == pieceIndex {
			delete(s.peerActivePiece, peerKey)
		}
	}
	return contributors
}

// ClearDownloaders drops all assignment bookkeeping for a piece once it
// has been verified downloaded (no further requests should be issued).
func (s *Scheduler) ClearDownloaders(pieceIndex uint32) {
	delete(s.downloaders, pieceIndex)
}
