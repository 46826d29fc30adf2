package swarm

import (
	"errors"
	"fmt"
	"time"

	"github.com/arktorrent/swarm/internal/peerprotocol"
)

// errNoTrackerAnswered wraps a periodic announce round in which every
// tier's every tracker failed.
var errNoTrackerAnswered = errors.New("no tracker in any tier answered this round")

// ProtocolError covers a bad handshake, an oversize frame, an
// out-of-range request, or a malformed bitfield: fatal to the peer
// session, but the peer is only dropped, never additionally penalized.
type ProtocolError struct{ Err error }

func (e ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Err) }
func (e ProtocolError) Unwrap() error { return e.Err }

// TransportError covers a timeout, EOF or connection reset: the session
// ends and the peer's address is held in a short cooldown before the
// torrent will re-dial it.
type TransportError struct{ Err error }

func (e TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e TransportError) Unwrap() error { return e.Err }

// IntegrityError is a piece hash mismatch: the piece resets and its
// contributors accrue distrust.
type IntegrityError struct {
	PieceIndex uint32
	Err        error
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity error on piece %d: %v", e.PieceIndex, e.Err)
}
func (e IntegrityError) Unwrap() error { return e.Err }

// TrackerError covers an HTTP 4xx/5xx response, a UDP error action, or a
// bencode decode failure: the tier/URL is marked failed for the current
// announce round and the announcer moves on to the next one.
type TrackerError struct {
	URL string
	Err error
}

func (e TrackerError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("tracker error: %v", e.Err)
	}
	return fmt.Sprintf("tracker error (%s): %v", e.URL, e.Err)
}
func (e TrackerError) Unwrap() error { return e.Err }

// StorageError is a disk I/O failure: it pauses the torrent and is
// surfaced on the next published State.
type StorageError struct{ Err error }

func (e StorageError) Error() string { return fmt.Sprintf("storage error: %v", e.Err) }
func (e StorageError) Unwrap() error { return e.Err }

// peerDialCooldown is how long a peer's address is held back from re-dial
// after it disconnects with a TransportError.
const peerDialCooldown = 60 * time.Second

// classifyPeerError maps a peerconn error onto one of the kinds above, so
// the reactor can decide whether the disconnecting peer's address earns a
// re-dial cooldown (TransportError) or not (everything else).
func classifyPeerError(err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case peerprotocol.ErrOversizeMessage, peerprotocol.ErrMalformedBody,
		peerprotocol.ErrInvalidProtocol, peerprotocol.ErrOwnConnection,
		peerprotocol.ErrInfoHashMismatch, peerprotocol.ErrPeerIDMismatch:
		return ProtocolError{Err: err}
	default:
		return TransportError{Err: err}
	}
}
