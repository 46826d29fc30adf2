package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/peerprotocol"
)

func TestAcceptHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	var infoHash [20]byte
	copy(infoHash[:], []byte("01234567890123456789"))
	var clientID, serverID [20]byte
	copy(clientID[:], []byte("-GT0001-clientpeerid"))
	copy(serverID[:], []byte("-GT0001-serverpeerid"))

	log := logger.New()

	serverPeerCh := make(chan *Peer, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		p, err := Accept(serverConn, infoHash, serverID, 10, log)
		if err != nil {
			serverErrCh <- err
			return
		}
		serverPeerCh <- p
	}()

	// Act as the connecting client: send our handshake, then read the
	// server's reply so Accept's write does not block forever on the pipe.
	clientErrCh := make(chan error, 1)
	go func() {
		if err := peerprotocol.WriteHandshake(clientConn, infoHash, clientID); err != nil {
			clientErrCh <- err
			return
		}
		if _, err := peerprotocol.ReadHandshake(clientConn, infoHash, clientID, &serverID); err != nil {
			clientErrCh <- err
			return
		}
		clientErrCh <- nil
	}()

	select {
	case p := <-serverPeerCh:
		require.Equal(t, clientID, p.ID())
	case err := <-serverErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake")
	}
	require.NoError(t, <-clientErrCh, "client handshake failed")
}
