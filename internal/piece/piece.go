// Package piece holds the canonical per-piece/per-block state shared by the
// verifier, the scheduler, and peer sessions.
package piece

import "github.com/arktorrent/swarm/internal/bitfield"

// BlockSize is the canonical request unit (16 KiB).
const BlockSize = 16 * 1024

// MaxRequestLength is the largest payload a peer may request (2^17 bytes).
const MaxRequestLength = 128 * 1024

// MaxMessageLength is the largest accepted wire frame (2^18 bytes).
const MaxMessageLength = 256 * 1024

// Block identifies a sub-range of a piece, the unit of request/transfer.
type Block struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// Piece is the mutable per-piece state. Selected/Done/Writing/Present track
// its lifecycle: empty -> partial -> complete-unverified -> downloaded, or
// back to empty on hash failure. Owners are peer identities resolved
// through the swarm's peer roster, never a direct pointer into peer state,
// so piece <-> peer ownership never forms a reference cycle.
type Piece struct {
	Index     uint32
	Length    int64 // real length of this piece (last piece may be short)
	Selected  bool
	Done      bool // downloaded and verified
	Writing   bool // hash validation in flight
	Present   *bitfield.Bitfield
	Blocks    []Block
	Owners    map[string]struct{} // peer key -> present
}

// New builds a Piece with its block layout precomputed.
func New(index uint32, length int64, selected bool) *Piece {
	numBlocks := uint32((length + BlockSize - 1) / BlockSize)
	blocks := make([]Block, numBlocks)
	var off int64
	for i := uint32(0); i < numBlocks; i++ {
		l := int64(BlockSize)
		if off+l > length {
			l = length - off
		}
		blocks[i] = Block{Index: index, Begin: uint32(off), Length: uint32(l)}
		off += l
	}
	return &Piece{
		Index:    index,
		Length:   length,
		Selected: selected,
		Present:  bitfield.New(numBlocks),
		Blocks:   blocks,
		Owners:   make(map[string]struct{}),
	}
}

// NumBlocks returns the number of blocks in this piece.
func (p *Piece) NumBlocks() int { return len(p.Blocks) }

// Complete reports whether every block is present, i.e. the piece is ready
// for hash validation or already past it.
func (p *Piece) Complete() bool {
	return p.Present.All()
}

// MarkBlock records a received block's bytes as present.
func (p *Piece) MarkBlock(index uint32) {
	p.Present.Set(index)
}

// Reset returns the piece to empty: clears presence and the downloaded/
// writing flags, used after a failed hash check.
func (p *Piece) Reset() {
	p.Present = bitfield.New(uint32(len(p.Blocks)))
	p.Done = false
	p.Writing = false
}

// AddOwner records that a peer (identified by its roster key) claims to
// have this piece.
func (p *Piece) AddOwner(peerKey string) {
	p.Owners[peerKey] = struct{}{}
}

// RemoveOwner forgets a peer's ownership claim, e.g. on disconnect.
func (p *Piece) RemoveOwner(peerKey string) {
	delete(p.Owners, peerKey)
}
