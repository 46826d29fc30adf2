// Package server implements a minimal UDP tracker server for testing the
// client in internal/tracker/udptracker: connection_ids valid for 300s,
// compact IPv4 peer lists excluding the announcing (host, port),
// num_want=-1 defaulting to 200, and event=3 (stopped) never returning
// peers.
//
// The announce handler's stopped branch is a deliberate design choice: it
// still responds with a full header (interval, leecher/seeder counts) and
// simply empties the peer list, rather than a distinct no-peers response
// shape.
package server

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	protocolMagic = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	connectionValidity = 300 * time.Second
	defaultNumWant     = 200
)

type peerEntry struct {
	ip       [4]byte
	port     uint16
	seeding  bool
	lastSeen time.Time
}

// Server is a toy UDP tracker: one process (all torrents share the same
// peer table, keyed by info_hash), explicit connection lifetime, no
// persistent storage.
type Server struct {
	conn *net.UDPConn

	mu          sync.Mutex
	connections map[uint64]time.Time
	swarms      map[[20]byte]map[string]*peerEntry // info_hash -> "ip:port" -> entry

	closeC chan struct{}
}

// Listen starts a Server on addr ("host:port" or ":0" for an ephemeral
// port). Call Addr to discover the bound port when 0 was requested.
func Listen(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		conn:        conn,
		connections: make(map[uint64]time.Time),
		swarms:      make(map[[20]byte]map[string]*peerEntry),
		closeC:      make(chan struct{}),
	}
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Close shuts down the listener.
func (s *Server) Close() error {
	close(s.closeC)
	return s.conn.Close()
}

// Serve handles requests until Close is called.
func (s *Server) Serve() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closeC:
				return
			default:
				continue
			}
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		go s.handle(pkt, addr)
	}
}

func (s *Server) handle(pkt []byte, addr *net.UDPAddr) {
	if len(pkt) < 16 {
		return
	}
	action := binary.BigEndian.Uint32(pkt[8:12])
	txID := binary.BigEndian.Uint32(pkt[12:16])
	switch action {
	case actionConnect:
		s.handleConnect(txID, addr)
	case actionAnnounce:
		s.handleAnnounce(pkt, txID, addr)
	}
}

func (s *Server) handleConnect(txID uint32, addr *net.UDPAddr) {
	connID := newConnectionID()
	s.mu.Lock()
	s.connections[connID] = time.Now()
	s.mu.Unlock()

	resp := make([]byte, 16)
	binary.BigEndian.PutUint32(resp[0:4], actionConnect)
	binary.BigEndian.PutUint32(resp[4:8], txID)
	binary.BigEndian.PutUint64(resp[8:16], connID)
	s.conn.WriteToUDP(resp, addr)
}

func (s *Server) handleAnnounce(pkt []byte, txID uint32, addr *net.UDPAddr) {
	if len(pkt) < 98 {
		return
	}
	connID := binary.BigEndian.Uint64(pkt[0:8])
	s.mu.Lock()
	connectedAt, ok := s.connections[connID]
	s.mu.Unlock()
	if !ok || time.Since(connectedAt) > connectionValidity {
		s.writeError(txID, addr, "connection id expired or unknown")
		return
	}

	var infoHash [20]byte
	copy(infoHash[:], pkt[16:36])
	left := binary.BigEndian.Uint64(pkt[64:72])
	event := binary.BigEndian.Uint32(pkt[80:84])
	numWant := int32(binary.BigEndian.Uint32(pkt[92:96]))
	port := binary.BigEndian.Uint16(pkt[96:98])

	if numWant < 0 {
		numWant = defaultNumWant
	}

	var ip [4]byte
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(ip[:], ip4)
	}

	s.mu.Lock()
	swarm, ok := s.swarms[infoHash]
	if !ok {
		swarm = make(map[string]*peerEntry)
		s.swarms[infoHash] = swarm
	}
	key := addr.IP.String() + ":" + portString(port)
	swarm[key] = &peerEntry{ip: ip, port: port, seeding: left == 0, lastSeen: time.Now()}

	var seeders, leechers int32
	var peers []*peerEntry
	for k, p := range swarm {
		if p.seeding {
			seeders++
		} else {
			leechers++
		}
		if k == key {
			continue // exclude the announcing (host, port) pair
		}
		peers = append(peers, p)
	}
	s.mu.Unlock()

	// event == 3 (stopped) returns no peers but still reports the header.
	if event == 3 {
		peers = nil
	} else if int32(len(peers)) > numWant {
		peers = peers[:numWant]
	}

	resp := make([]byte, 20+6*len(peers))
	binary.BigEndian.PutUint32(resp[0:4], actionAnnounce)
	binary.BigEndian.PutUint32(resp[4:8], txID)
	binary.BigEndian.PutUint32(resp[8:12], 1800) // interval
	binary.BigEndian.PutUint32(resp[12:16], uint32(leechers))
	binary.BigEndian.PutUint32(resp[16:20], uint32(seeders))
	for i, p := range peers {
		off := 20 + i*6
		copy(resp[off:off+4], p.ip[:])
		binary.BigEndian.PutUint16(resp[off+4:off+6], p.port)
	}
	s.conn.WriteToUDP(resp, addr)
}

func (s *Server) writeError(txID uint32, addr *net.UDPAddr, msg string) {
	resp := make([]byte, 8+len(msg))
	binary.BigEndian.PutUint32(resp[0:4], actionError)
	binary.BigEndian.PutUint32(resp[4:8], txID)
	copy(resp[8:], msg)
	s.conn.WriteToUDP(resp, addr)
}

var connIDCounter uint64

func newConnectionID() uint64 {
	return atomic.AddUint64(&connIDCounter, 1)
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
