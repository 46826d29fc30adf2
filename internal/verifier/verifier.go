// Package verifier hashes completed pieces and decides downloaded vs.
// reset, running on a worker pool so the reactor goroutine is never
// stalled by SHA-1 computation.
package verifier

import (
	"crypto/sha1"

	"github.com/arktorrent/swarm/internal/metainfo"
)

// Reader is the subset of storage.Storage the verifier needs.
type Reader interface {
	ReadAt(offset int64, length int) ([]byte, error)
}

// Result is sent back on ResultC once a piece has been checked.
type Result struct {
	Index uint32
	OK    bool
	Err   error
}

// Progress reports how many of the selected pieces have been checked so
// far during the startup scan.
type Progress struct {
	Checked uint32
}

// Verifier hashes one piece at a time on its own goroutine and reports
// back over channels so the caller (the swarm's single reactor goroutine)
// is never blocked.
type Verifier struct {
	info       *metainfo.Info
	store      Reader
	ResultC    chan Result
	ProgressC  chan Progress
}

// New returns a Verifier bound to info and a readable store.
func New(info *metainfo.Info, store Reader) *Verifier {
	return &Verifier{
		info:      info,
		store:     store,
		ResultC:   make(chan Result, 1),
		ProgressC: make(chan Progress, 1),
	}
}

// VerifyPiece hashes a single piece synchronously and reports whether it
// matches the expected digest. A short read (truncated file) is always
// treated as a missing piece rather than an error.
func (v *Verifier) VerifyPiece(index uint32) (bool, error) {
	length := v.info.PieceLengthAt(int(index))
	offset := int64(index) * v.info.PieceLength
	b, err := v.store.ReadAt(offset, int(length))
	if err != nil {
		return false, err
	}
	if int64(len(b)) != length {
		return false, nil // short read: treat as missing, not fatal
	}
	sum := sha1.Sum(b)
	return sum == v.info.Pieces[index], nil
}

// RunStartupScan verifies every selected piece sequentially on a worker
// goroutine, sending Progress ticks and a final slice of Results. The
// swarm supervisor runs this before announcing started, so the tracker
// and any peers always see an accurate bitfield.
func (v *Verifier) RunStartupScan(selected []uint32, done chan<- []Result) {
	go func() {
		results := make([]Result, 0, len(selected))
		for i, idx := range selected {
			ok, err := v.VerifyPiece(idx)
			results = append(results, Result{Index: idx, OK: ok, Err: err})
			select {
			case v.ProgressC <- Progress{Checked: uint32(i + 1)}:
			default:
			}
		}
		done <- results
	}()
}

// VerifyAsync hashes a single piece on its own goroutine, posting the
// outcome to ResultC. Used mid-session when a piece's blocks_present
// becomes full: the piece is marked Writing by the caller first so
// in-flight blocks for it are rejected while the hash runs.
func (v *Verifier) VerifyAsync(index uint32) {
	go func() {
		ok, err := v.VerifyPiece(index)
		v.ResultC <- Result{Index: index, OK: ok, Err: err}
	}()
}
