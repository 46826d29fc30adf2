package swarm

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/bitfield"
	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/metainfo"
	"github.com/arktorrent/swarm/internal/peerconn"
	"github.com/arktorrent/swarm/internal/peerprotocol"
	"github.com/arktorrent/swarm/internal/verifier"
)

const testPieceLength = 16384 // one block per piece

func buildInfo(content []byte) *metainfo.Info {
	numPieces := (len(content) + testPieceLength - 1) / testPieceLength
	pieces := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		start := i * testPieceLength
		end := start + testPieceLength
		if end > len(content) {
			end = len(content)
		}
		pieces[i] = sha1.Sum(content[start:end])
	}
	return &metainfo.Info{
		InfoHash:    sha1.Sum(content),
		Name:        "test.bin",
		PieceLength: testPieceLength,
		Pieces:      pieces,
		Files:       []metainfo.File{{Length: int64(len(content)), Path: []string{"test.bin"}}},
		TotalLength: int64(len(content)),
		SingleFile:  true,
	}
}

func newTestTorrent(t *testing.T, info *metainfo.Info) *Torrent {
	t.Helper()
	dir := t.TempDir()
	var ourID [20]byte
	copy(ourID[:], "-SW0001-localtestpid")
	tr := New(info, dir, ourID, 6881, nil, logger.New())
	require.NoError(t, tr.store.Open(), "open store")
	t.Cleanup(func() { tr.store.Close() })
	tr.verifier = verifier.New(info, tr.store)
	return tr
}

// newTestPeer completes a real handshake over an in-memory pipe and returns
// our local Peer (not yet added to any Torrent) plus the raw remote half,
// which the test drives directly with peerprotocol frames to stand in for
// a real remote client.
func newTestPeer(t *testing.T, infoHash, ourID [20]byte, numPieces uint32) (*peerconn.Peer, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	var remoteID [20]byte
	copy(remoteID[:], "-SW0001-remotetestid")

	peerCh := make(chan *peerconn.Peer, 1)
	errCh := make(chan error, 1)
	go func() {
		p, err := peerconn.Accept(local, infoHash, ourID, numPieces, logger.New())
		if err != nil {
			errCh <- err
			return
		}
		peerCh <- p
	}()

	require.NoError(t, peerprotocol.WriteHandshake(remote, infoHash, remoteID), "remote handshake write")
	_, err := peerprotocol.ReadHandshake(remote, infoHash, remoteID, &ourID)
	require.NoError(t, err, "remote handshake read")

	select {
	case p := <-peerCh:
		return p, remote
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake")
	}
	panic("unreachable")
}

func readFrame(t *testing.T, conn net.Conn) peerprotocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := peerprotocol.ReadFrame(conn)
	require.NoError(t, err, "read frame")
	return msg
}

func TestHandleBitfieldUpdatesInterestAndSendsInterested(t *testing.T) {
	content := make([]byte, 4*testPieceLength)
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close(); p.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]

	bf := bitfield.New(uint32(len(tr.pieces)))
	bf.Set(0)
	require.NoError(t, peerprotocol.WriteFrame(remote, peerprotocol.BitfieldMessage(bf.Bytes())), "write bitfield")

	select {
	case pm := <-tr.peerMsgC:
		tr.handleMessage(pm)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded bitfield message")
	}

	_, owns := tr.pieces[0].Owners[pa.Key()]
	assert.True(t, owns, "expected peer to be recorded as owning piece 0")
	assert.True(t, pa.peer.AmInterested, "expected AmInterested to be set after owning an interesting piece")

	msg := readFrame(t, remote)
	assert.Equal(t, peerprotocol.Interested, msg.ID, "expected INTERESTED on the wire")
}

func TestHandleRequestServesStoredBlock(t *testing.T) {
	content := []byte("hello from the only piece in this tiny torrent!")
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	require.NoError(t, tr.store.WriteAt(0, content), "seed store")

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close(); p.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]
	pa.peer.AmChoking = false
	pa.peer.PeerInterested = true
	tr.pieces[0].Done = true

	tr.handleRequest(pa, peerprotocol.RequestMessage(0, 0, uint32(len(content))))

	msg := readFrame(t, remote)
	assert.Equal(t, peerprotocol.Piece, msg.ID, "expected PIECE on the wire")
	assert.Equal(t, string(content), string(msg.PieceData), "expected served data to match")
	assert.EqualValues(t, len(content), tr.uploaded, "expected uploaded counter to track served bytes")
}

func TestHandleRequestSilentlyRejectsWhenNotInterestedOrPieceMissing(t *testing.T) {
	content := []byte("hello from the only piece in this tiny torrent!")
	info := buildInfo(content)
	tr := newTestTorrent(t, info)
	require.NoError(t, tr.store.WriteAt(0, content), "seed store")

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close(); p.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]
	pa.peer.AmChoking = false
	// Neither PeerInterested nor pieces[0].Done is set: both are silent
	// reject conditions, not fatal to the session.
	tr.handleRequest(pa, peerprotocol.RequestMessage(0, 0, uint32(len(content))))

	remote.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := peerprotocol.ReadFrame(remote)
	assert.Error(t, err, "expected no PIECE reply, not a disconnect either")
	_, ok := tr.peers[p.String()]
	assert.True(t, ok, "peer must remain connected after a silent reject")
}

func TestHandleRequestOutOfBoundsDisconnects(t *testing.T) {
	content := []byte("hello from the only piece in this tiny torrent!")
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]
	pa.peer.AmChoking = false
	pa.peer.PeerInterested = true
	tr.pieces[0].Done = true

	// begin+length runs past the piece's length: a fatal "block range out
	// of bounds" condition, not a silent reject.
	tr.handleRequest(pa, peerprotocol.RequestMessage(0, uint32(len(content)-1), 100))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected peer to be disconnected for an out-of-bounds request")
	}
}

func TestHandlePieceOutOfBoundsDisconnects(t *testing.T) {
	content := make([]byte, testPieceLength)
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]

	// begin starts one byte before the piece boundary, so begin+len(data)
	// overruns the piece: a fatal "block range out of bounds" condition.
	tr.handlePiece(pa, peerprotocol.PieceMessage(0, uint32(testPieceLength-1), []byte{1, 2, 3, 4}))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected peer to be disconnected for an out-of-bounds piece message")
	}
}

func TestHandlePieceCompletesAndVerifiesPiece(t *testing.T) {
	content := make([]byte, testPieceLength)
	for i := range content {
		content[i] = byte(i)
	}
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close(); p.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]

	tr.handlePiece(pa, peerprotocol.PieceMessage(0, 0, content))

	assert.True(t, tr.pieces[0].Writing, "expected piece 0 to be under validation after a completing block")

	select {
	case r := <-tr.verifier.ResultC:
		tr.handleVerifyResult(r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for verify result")
	}

	assert.True(t, tr.pieces[0].Done, "expected piece 0 to be Done after a successful verify")

	msg := readFrame(t, remote)
	assert.Equal(t, peerprotocol.Have, msg.ID)
	assert.EqualValues(t, 0, msg.HaveIndex, "expected HAVE(0) broadcast after verify")
}

func TestRemovePeerForgetsPieceOwnership(t *testing.T) {
	content := make([]byte, 2*testPieceLength)
	info := buildInfo(content)
	tr := newTestTorrent(t, info)

	p, remote := newTestPeer(t, info.InfoHash, tr.ourID, uint32(len(tr.pieces)))
	t.Cleanup(func() { remote.Close() })

	tr.addPeer(p)
	pa := tr.peers[p.String()]
	tr.pieces[0].AddOwner(pa.Key())

	tr.removePeer(p)

	_, ok := tr.peers[p.String()]
	assert.False(t, ok, "expected peer to be removed from the roster")
	_, owns := tr.pieces[0].Owners[pa.Key()]
	assert.False(t, owns, "expected piece ownership to be forgotten on disconnect")
}
