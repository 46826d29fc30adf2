package peerconn

import (
	"bufio"
	"net"

	"github.com/arktorrent/swarm/internal/peerprotocol"
)

// bufferedConn lets PeekInfoHash inspect the handshake's info_hash without
// losing those bytes for the real Accept that follows: reads go through
// the buffered reader that already holds them, everything else (writes,
// deadlines, Close) goes straight to the underlying net.Conn.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) { return c.br.Read(b) }

// PeekInfoHash reads (but, via the returned conn, does not lose) enough of
// an inbound connection's handshake to learn which torrent it's for,
// before any per-torrent info_hash is known. Callers route the returned
// conn to the matching torrent's Accept.
func PeekInfoHash(conn net.Conn) (infoHash [20]byte, wrapped net.Conn, err error) {
	br := bufio.NewReaderSize(conn, peerprotocol.HandshakeLength)
	head, err := br.Peek(peerprotocol.HandshakeLength)
	if err != nil {
		return infoHash, nil, err
	}
	copy(infoHash[:], head[28:48])
	return infoHash, &bufferedConn{Conn: conn, br: br}, nil
}
