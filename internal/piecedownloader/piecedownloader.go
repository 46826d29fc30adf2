// Package piecedownloader tracks the blocks of a single piece that are
// currently assigned to a single peer. A PieceDownloader never owns a
// goroutine: it is a plain struct driven synchronously from the
// scheduler's reactor loop, matching a single-goroutine-per-torrent model
// (a per-downloader goroutine-and-channel design was simplified away
// here — see DESIGN.md).
package piecedownloader

import (
	"time"

	"github.com/arktorrent/swarm/internal/piece"
)

// Pipeline is the default number of blocks kept outstanding per peer.
const Pipeline = 10

// RequestTimeout is how long an unanswered block request is tolerated
// before it is revoked back to the pool.
const RequestTimeout = 30 * time.Second

type pending struct {
	requestedAt time.Time
}

// PieceDownloader tracks, for one (piece, peer) pair, which blocks have
// been requested and when, so the scheduler can refill the pipeline and
// detect per-block timeouts.
type PieceDownloader struct {
	Piece    *piece.Piece
	PeerKey  string
	pending  map[uint32]pending
	pipeline int
}

// New returns a downloader for pi assigned to peerKey, with the default
// pipeline depth.
func New(pi *piece.Piece, peerKey string) *PieceDownloader {
	return &PieceDownloader{
		Piece:    pi,
		PeerKey:  peerKey,
		pending:  make(map[uint32]pending),
		pipeline: Pipeline,
	}
}

// NextBlocks returns up to n blocks that are neither present nor already
// requested, marking them requested. Callers send REQUEST messages for
// each and call GotBlock/Timeout as replies (or timeouts) occur.
func (d *PieceDownloader) NextBlocks(n int) []piece.Block {
	var out []piece.Block
	for i := range d.Piece.Blocks {
		if len(out) >= n || len(d.pending) >= d.pipeline {
			break
		}
		b := d.Piece.Blocks[i]
		if d.Piece.Present.Test(b.Index) {
			continue
		}
		if _, ok := d.pending[b.Index]; ok {
			continue
		}
		d.pending[b.Index] = pending{requestedAt: time.Now()}
		out = append(out, b)
	}
	return out
}

// Room reports how many more blocks this downloader can have outstanding.
func (d *PieceDownloader) Room() int {
	r := d.pipeline - len(d.pending)
	if r < 0 {
		return 0
	}
	return r
}

// GotBlock marks a block index as no longer pending (the caller already
// wrote its bytes to storage and updated Piece.Present under the file
// store lock).
func (d *PieceDownloader) GotBlock(index uint32) {
	delete(d.pending, index)
}

// Revoke forgets a pending request without marking the block present,
// e.g. on REJECT or disconnect — the block returns to the pool for
// reassignment.
func (d *PieceDownloader) Revoke(index uint32) {
	delete(d.pending, index)
}

// TimedOut returns the block indices whose requests have been pending
// longer than RequestTimeout, without clearing them (the caller decides
// whether to revoke and also bump peer distrust).
func (d *PieceDownloader) TimedOut(now time.Time) []uint32 {
	var out []uint32
	for idx, p := range d.pending {
		if now.Sub(p.requestedAt) >= RequestTimeout {
			out = append(out, idx)
		}
	}
	return out
}

// Done reports whether every block of the piece is present.
func (d *PieceDownloader) Done() bool {
	return d.Piece.Complete()
}

// PendingCount returns how many blocks are currently outstanding.
func (d *PieceDownloader) PendingCount() int { return len(d.pending) }
