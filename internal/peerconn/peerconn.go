// Package peerconn implements the transport half of a peer session: dialing
// or accepting a TCP connection, performing the BEP 3 handshake, and
// framing messages in both directions under the required timeouts. The choke/interest state machine and request dispatch live one
// layer up, in internal/swarm, which is the sole mutator of a Peer's
// fields — Run's reader/writer goroutines only move bytes and frames.
package peerconn

import (
	"bytes"
	"net"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/arktorrent/swarm/internal/bitfield"
	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/peerprotocol"
)

const (
	connectTimeout      = 5 * time.Second
	readTimeout         = 5 * time.Second
	writeTimeout        = 5 * time.Second
	interFrameSilence   = 60 * time.Second
	keepAliveInterval   = 90 * time.Second
	sendQueueDepth      = 64
)

// Peer is one bidirectional peer session: the TCP connection plus the
// framing goroutines. Choke/interest flags, counters and owned-piece
// bitfield are declared here because they are session-scoped, but they
// must only ever be written by the swarm's single reactor
// goroutine that owns this Peer — never from the reader/writer goroutines
// below, which only ever touch the channels.
type Peer struct {
	conn     net.Conn
	id       [20]byte
	Outgoing bool
	log      logger.Logger

	messagesC chan peerprotocol.Message
	sendC     chan peerprotocol.Message
	closeC    chan struct{}
	closedC   chan struct{}
	ErrC      chan error

	// Session state, owned exclusively by the swarm reactor.
	AmChoking, AmInterested     bool
	PeerChoking, PeerInterested bool
	PieceBitfield               *bitfield.Bitfield
	GotBitfield                 bool
	BytesDownloaded              int64
	BytesUploaded                int64
	DownloadRate                 metrics.EWMA
	UploadRate                   metrics.EWMA
	LastSeen                     time.Time
	Distrust                     int
	RequestTimeouts              int
	OptimisticUnchoked           bool
}

func newPeer(conn net.Conn, id [20]byte, numPieces uint32, log logger.Logger) *Peer {
	return &Peer{
		conn:          conn,
		id:            id,
		log:           log,
		messagesC:     make(chan peerprotocol.Message),
		sendC:         make(chan peerprotocol.Message, sendQueueDepth),
		closeC:        make(chan struct{}),
		closedC:       make(chan struct{}),
		ErrC:          make(chan error, 1),
		AmChoking:     true,
		PeerChoking:   true,
		PieceBitfield: bitfield.New(numPieces),
		LastSeen:      time.Now(),
		DownloadRate:  metrics.NewEWMA1(),
		UploadRate:    metrics.NewEWMA1(),
	}
}

// Dial connects to addr, performs the outgoing handshake and returns a
// Peer whose goroutines the caller starts with Run. expectedID, if non-nil,
// must match the remote's peer_id.
func Dial(addr string, infoHash, ourID [20]byte, expectedID *[20]byte, numPieces uint32, log logger.Logger) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := peerprotocol.WriteHandshake(conn, infoHash, ourID); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	peerID, err := peerprotocol.ReadHandshake(conn, infoHash, ourID, expectedID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p := newPeer(conn, peerID, numPieces, log)
	p.Outgoing = true
	return p, nil
}

// Accept completes the symmetric handshake on an already-connected inbound
// socket and returns a Peer whose goroutines the caller starts with Run.
func Accept(conn net.Conn, infoHash, ourID [20]byte, numPieces uint32, log logger.Logger) (*Peer, error) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	peerID, err := peerprotocol.ReadHandshake(conn, infoHash, ourID, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := peerprotocol.WriteHandshake(conn, infoHash, ourID); err != nil {
		conn.Close()
		return nil, err
	}
	p := newPeer(conn, peerID, numPieces, log)
	p.Outgoing = false
	return p, nil
}

// ID returns the remote peer_id received at handshake.
func (p *Peer) ID() [20]byte { return p.id }

// String returns the remote address, for logging.
func (p *Peer) String() string { return p.conn.RemoteAddr().String() }

// Done returns a channel closed once Run has torn down both the reader and
// writer goroutines (e.g. after Close, a timeout, or a protocol error
// reported on ErrC).
func (p *Peer) Done() <-chan struct{} { return p.closedC }

// LastErr returns the error that caused Run to exit, if any. Must only be
// called after Done has fired; a clean Close leaves ErrC empty and this
// returns nil.
func (p *Peer) LastErr() error {
	select {
	case err := <-p.ErrC:
		return err
	default:
		return nil
	}
}

// Messages returns the channel of parsed incoming frames. KeepAlive frames
// are delivered too (Message.IsKeepAlive()), so the reactor can treat them
// as LastSeen updates without special-casing the framer.
func (p *Peer) Messages() <-chan peerprotocol.Message { return p.messagesC }

// SendMessage queues an outgoing message. It never blocks the caller for
// longer than the send queue allows; a full queue indicates a stuck peer
// and is itself grounds for the caller to Close it.
func (p *Peer) SendMessage(m peerprotocol.Message) {
	select {
	case p.sendC <- m:
	case <-p.closeC:
	}
}

// Close signals both goroutines to stop and waits for them to exit. Must
// only be called after Run has been started.
func (p *Peer) Close() {
	select {
	case <-p.closeC:
	default:
		close(p.closeC)
	}
	<-p.closedC
}

// Run starts the reader and writer goroutines and blocks until either one
// exits (due to an error, a timeout, or Close being called), then tears
// down the connection and waits for the other to finish too.
func (p *Peer) Run() {
	defer close(p.closedC)

	readerDone := make(chan struct{})
	go func() {
		p.readLoop()
		close(readerDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		p.writeLoop()
		close(writerDone)
	}()

	select {
	case <-p.closeC:
	case <-readerDone:
	case <-writerDone:
	}
	p.conn.Close()
	<-readerDone
	<-writerDone
}

func (p *Peer) readLoop() {
	for {
		p.conn.SetReadDeadline(time.Now().Add(interFrameSilence))
		msg, err := peerprotocol.ReadFrame(p.conn)
		if err != nil {
			select {
			case p.ErrC <- err:
			default:
			}
			return
		}
		select {
		case p.messagesC <- msg:
		case <-p.closeC:
			return
		}
	}
}

func (p *Peer) writeLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closeC:
			return
		case <-ticker.C:
			if err := p.writeFrame(peerprotocol.KeepAliveMessage()); err != nil {
				select {
				case p.ErrC <- err:
				default:
				}
				return
			}
		case m := <-p.sendC:
			ticker.Reset(keepAliveInterval)
			if err := p.writeFrame(m); err != nil {
				select {
				case p.ErrC <- err:
				default:
				}
				return
			}
		}
	}
}

func (p *Peer) writeFrame(m peerprotocol.Message) error {
	var buf bytes.Buffer
	if err := m.WriteTo(&buf); err != nil {
		return err
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := p.conn.Write(buf.Bytes())
	return err
}
