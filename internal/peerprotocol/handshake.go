// Package peerprotocol implements the BitTorrent peer wire protocol (BEP 3):
// the handshake and the length-prefixed framed messages.
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const protocolName = "BitTorrent protocol"

// HandshakeLength is the fixed size of a handshake on the wire.
const HandshakeLength = 1 + 19 + 8 + 20 + 20

var (
	// ErrInvalidProtocol is returned when the handshake's protocol name
	// does not match BEP 3 exactly.
	ErrInvalidProtocol = errors.New("peerprotocol: invalid protocol header")
	// ErrOwnConnection is returned when a peer's id equals ours.
	ErrOwnConnection = errors.New("peerprotocol: dropped own connection")
	// ErrInfoHashMismatch is returned when the peer's info_hash doesn't
	// match ours.
	ErrInfoHashMismatch = errors.New("peerprotocol: info_hash mismatch")
	// ErrPeerIDMismatch is returned when an expected peer id doesn't match.
	ErrPeerIDMismatch = errors.New("peerprotocol: peer id mismatch")
)

// WriteHandshake writes the 68-byte handshake: pstrlen, pstr, 8 reserved
// zero bytes, info_hash, peer_id.
func WriteHandshake(w io.Writer, infoHash, peerID [20]byte) error {
	buf := make([]byte, HandshakeLength)
	buf[0] = 19
	copy(buf[1:20], protocolName)
	// buf[20:28] reserved, left zero (no extensions negotiated)
	copy(buf[28:48], infoHash[:])
	copy(buf[48:68], peerID[:])
	_, err := w.Write(buf)
	return err
}

// ReadHandshake reads and validates a peer's handshake, returning its
// peer_id. ourInfoHash and ourPeerID are used for the self-connection and
// info_hash checks; if expectedPeerID is non-nil, it is also checked.
func ReadHandshake(r io.Reader, ourInfoHash, ourPeerID [20]byte, expectedPeerID *[20]byte) (peerID [20]byte, err error) {
	buf := make([]byte, HandshakeLength)
	if _, err = io.ReadFull(r, buf); err != nil {
		return peerID, err
	}
	if buf[0] != 19 || string(buf[1:20]) != protocolName {
		return peerID, ErrInvalidProtocol
	}
	var gotHash [20]byte
	copy(gotHash[:], buf[28:48])
	if gotHash != ourInfoHash {
		return peerID, ErrInfoHashMismatch
	}
	copy(peerID[:], buf[48:68])
	if peerID == ourPeerID {
		return peerID, ErrOwnConnection
	}
	if expectedPeerID != nil && peerID != *expectedPeerID {
		return peerID, ErrPeerIDMismatch
	}
	return peerID, nil
}

// ReadUint32 decodes the first four bytes of b as a big-endian u32.
func ReadUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
