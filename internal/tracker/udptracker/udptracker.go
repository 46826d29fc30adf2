// Package udptracker implements the client side of the UDP tracker
// protocol (BEP 15).
package udptracker

import (
	"encoding/binary"
	"math/rand"
	"net"
	"time"

	"github.com/arktorrent/swarm/internal/tracker"
)

const (
	protocolMagic = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	// connectionValidity is how long we trust a connection_id locally
	// before re-connecting, conservative relative to servers that may
	// advertise a longer window.
	connectionValidity = 60 * time.Second

	initialTimeout = 15 * time.Second
	maxRetries     = 8
)

// UDPTracker is a client for one UDP tracker announce URL (host:port).
type UDPTracker struct {
	addr string
	url  string

	connID      uint64
	connIDAt    time.Time
	dial        func(network, address string) (net.Conn, error)
}

// New returns a UDPTracker dialing addr ("host:port") with announce URL url
// used only for display/logging.
func New(addr, url string) *UDPTracker {
	return &UDPTracker{addr: addr, url: url, dial: net.Dial}
}

func (t *UDPTracker) URL() string { return t.url }

func randomTransactionID() uint32 {
	return rand.Uint32()
}

// Announce performs connect (if needed) then announce, retrying with
// doubling backoff starting at 15s for up to 8 retries per BEP 15 §3.1.
func (t *UDPTracker) Announce(req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	conn, err := t.dial("udp", t.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var lastErr error
	timeout := initialTimeout
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if time.Since(t.connIDAt) >= connectionValidity {
			if err := t.connect(conn, timeout); err != nil {
				lastErr = err
				timeout *= 2
				continue
			}
		}
		resp, err := t.announce(conn, req, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		// A stale/rejected connection_id forces a fresh connect next try.
		t.connIDAt = time.Time{}
		timeout *= 2
	}
	return nil, lastErr
}

func (t *UDPTracker) connect(conn net.Conn, timeout time.Duration) error {
	txID := randomTransactionID()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], protocolMagic)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(req); err != nil {
		return err
	}
	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return err
	}
	if n < 16 {
		return errShortPacket
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTx := binary.BigEndian.Uint32(resp[4:8])
	if gotTx != txID {
		return errTransactionMismatch
	}
	if action == actionError {
		return &tracker.ErrTracker{Message: string(resp[8:n])}
	}
	if action != actionConnect {
		return errUnexpectedAction
	}
	t.connID = binary.BigEndian.Uint64(resp[8:16])
	t.connIDAt = time.Now()
	return nil
}

func (t *UDPTracker) announce(conn net.Conn, req tracker.AnnounceRequest, timeout time.Duration) (*tracker.AnnounceResponse, error) {
	txID := randomTransactionID()
	pkt := make([]byte, 98)
	binary.BigEndian.PutUint64(pkt[0:8], t.connID)
	binary.BigEndian.PutUint32(pkt[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(pkt[12:16], txID)
	copy(pkt[16:36], req.InfoHash[:])
	copy(pkt[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(pkt[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(pkt[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(pkt[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(pkt[80:84], uint32(req.Event))
	binary.BigEndian.PutUint32(pkt[84:88], 0) // ip: 0 = source
	binary.BigEndian.PutUint32(pkt[88:92], rand.Uint32())
	binary.BigEndian.PutUint32(pkt[92:96], uint32(int32(req.NumWant)))
	binary.BigEndian.PutUint16(pkt[96:98], req.Port)

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(pkt); err != nil {
		return nil, err
	}
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, errShortPacket
	}
	action := binary.BigEndian.Uint32(buf[0:4])
	gotTx := binary.BigEndian.Uint32(buf[4:8])
	if gotTx != txID {
		return nil, errTransactionMismatch
	}
	if action == actionError {
		return nil, &tracker.ErrTracker{Message: string(buf[8:n])}
	}
	if action != actionAnnounce {
		return nil, errUnexpectedAction
	}
	interval := binary.BigEndian.Uint32(buf[8:12])
	leechers := binary.BigEndian.Uint32(buf[12:16])
	seeders := binary.BigEndian.Uint32(buf[16:20])

	var peers []*net.TCPAddr
	for off := 20; off+6 <= n; off += 6 {
		ip := net.IPv4(buf[off], buf[off+1], buf[off+2], buf[off+3])
		port := binary.BigEndian.Uint16(buf[off+4 : off+6])
		peers = append(peers, &net.TCPAddr{IP: ip, Port: int(port)})
	}

	return &tracker.AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Leechers: int32(leechers),
		Seeders:  int32(seeders),
		Peers:    peers,
	}, nil
}
