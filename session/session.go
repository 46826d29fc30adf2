package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/metainfo"
	"github.com/arktorrent/swarm/internal/peerconn"
	"github.com/arktorrent/swarm/internal/resume"
	"github.com/arktorrent/swarm/internal/resume/boltdbresumer"
	"github.com/arktorrent/swarm/internal/swarm"
	"github.com/arktorrent/swarm/internal/tracker"
	"github.com/arktorrent/swarm/internal/tracker/httptracker"
	"github.com/arktorrent/swarm/internal/tracker/udptracker"
)

// peerIDPrefix identifies this client in the conventional Azureus style
// (BEP 20), the rest of the 20 bytes filled with a random UUID tail so two
// processes never collide.
const peerIDPrefix = "-SW0001-"

// ErrAlreadyAdded is returned by Add when a torrent with the same
// info_hash is already in the roster.
var ErrAlreadyAdded = errors.New("session: torrent already added")

// ErrNotFound is returned by Pause/Resume/Remove for an unknown info_hash.
var ErrNotFound = errors.New("session: torrent not found")

// Session is the control plane: it owns the process-wide peer_id, the
// shared inbound listener, the resume database, and every active
// swarm.Torrent, generalized down from a richer BEP 3-plus-DHT-plus-magnet
// roster to the concerns this engine actually covers.
type Session struct {
	config  Config
	peerID  [20]byte
	log     logger.Logger
	resumer resume.Resumer
	ln      net.Listener

	mu       sync.Mutex
	torrents map[[20]byte]*entry
	closeC   chan struct{}
}

type entry struct {
	t    *swarm.Torrent
	spec resume.Spec
}

// New starts a Session: it opens the resume database, generates the
// process-wide peer_id, and begins listening for inbound peer connections
// on config.Port. Torrents already in the resume database are NOT
// auto-added; Resume lists them, and callers Add each one themselves.
func New(config Config, log logger.Logger) (*Session, error) {
	if err := os.MkdirAll(config.DownloadDir, 0o750); err != nil {
		return nil, err
	}
	resumer, err := boltdbresumer.New(config.ResumeDBPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(int(config.Port)))
	if err != nil {
		resumer.Close()
		return nil, err
	}
	s := &Session{
		config:   config,
		peerID:   newPeerID(),
		log:      log,
		resumer:  resumer,
		ln:       ln,
		torrents: make(map[[20]byte]*entry),
		closeC:   make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

func newPeerID() [20]byte {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	tail := uuid.NewV4()
	copy(id[8:], tail[:12])
	return id
}

// Resume lists every torrent previously saved to the resume database,
// without adding them to the live roster.
func (s *Session) Resume() ([]resume.Spec, error) {
	return s.resumer.All()
}

// Add starts a new torrent from parsed metainfo, persists its roster entry,
// and begins its supervisor goroutine.
func (s *Session) Add(mi *metainfo.MetaInfo) (*swarm.Torrent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.torrents[mi.Info.InfoHash]; ok {
		return nil, ErrAlreadyAdded
	}

	tiers := buildTrackerTiers(mi.AnnounceTiers(), s.log)
	dir := defaultTorrentDir(s.config.DownloadDir, mi.Info.Name)
	t := swarm.New(mi.Info, dir, s.peerID, s.config.Port, tiers, s.log)
	t.SetMaxOutboundPeers(s.config.MaxOutboundPeers)

	spec := resume.Spec{
		InfoHash:    mi.Info.InfoHash,
		Name:        mi.Info.Name,
		DownloadDir: dir,
		NumPieces:   uint32(mi.Info.NumPieces()),
	}
	if err := s.resumer.Save(spec); err != nil {
		return nil, err
	}
	s.torrents[mi.Info.InfoHash] = &entry{t: t, spec: spec}
	go t.Run()
	return t, nil
}

// Pause stops a torrent from requesting blocks, without removing it from
// the roster or dropping its peers.
func (s *Session) Pause(infoHash [20]byte) error {
	e, err := s.lookup(infoHash)
	if err != nil {
		return err
	}
	e.t.Pause()
	return nil
}

// ResumeTorrent undoes Pause. Named to avoid colliding with the Resume
// method that lists the resume database.
func (s *Session) ResumeTorrent(infoHash [20]byte) error {
	e, err := s.lookup(infoHash)
	if err != nil {
		return err
	}
	e.t.Resume()
	return nil
}

// Remove stops a torrent's supervisor and forgets it, including its
// resume database entry.
func (s *Session) Remove(infoHash [20]byte) error {
	s.mu.Lock()
	e, ok := s.torrents[infoHash]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.torrents, infoHash)
	s.mu.Unlock()

	e.t.Stop()
	return s.resumer.Remove(infoHash)
}

// Torrents returns a snapshot of every torrent currently in the roster.
func (s *Session) Torrents() []*swarm.Torrent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*swarm.Torrent, 0, len(s.torrents))
	for _, e := range s.torrents {
		out = append(out, e.t)
	}
	return out
}

func (s *Session) lookup(infoHash [20]byte) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[infoHash]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Close stops accepting inbound connections, stops every torrent, and
// closes the resume database.
func (s *Session) Close() error {
	close(s.closeC)
	s.ln.Close()
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.torrents))
	for _, e := range s.torrents {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.t.Stop()
	}
	return s.resumer.Close()
}

// acceptLoop routes inbound connections to the torrent named by the
// handshake's info_hash, peeking it before the torrent's own Accept
// consumes the handshake.
func (s *Session) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeC:
				return
			default:
				s.log.Debugln("accept error:", err)
				continue
			}
		}
		go s.routeIncoming(conn)
	}
}

func (s *Session) routeIncoming(conn net.Conn) {
	infoHash, wrapped, err := peerconn.PeekInfoHash(conn)
	if err != nil {
		conn.Close()
		return
	}
	e, err := s.lookup(infoHash)
	if err != nil {
		wrapped.Close()
		return
	}
	e.t.AddIncomingPeer(wrapped)
}

func buildTrackerTiers(urls [][]string, log logger.Logger) [][]tracker.Tracker {
	var tiers [][]tracker.Tracker
	for _, tier := range urls {
		var trackers []tracker.Tracker
		for _, u := range tier {
			tr, err := newTracker(u)
			if err != nil {
				log.WithField("tracker", u).Debugln("skipping unsupported tracker:", err)
				continue
			}
			trackers = append(trackers, tr)
		}
		if len(trackers) > 0 {
			tiers = append(tiers, trackers)
		}
	}
	return tiers
}

func newTracker(announceURL string) (tracker.Tracker, error) {
	switch {
	case hasScheme(announceURL, "http"), hasScheme(announceURL, "https"):
		return httptracker.New(announceURL), nil
	case hasScheme(announceURL, "udp"):
		host, err := udpHostPort(announceURL)
		if err != nil {
			return nil, err
		}
		return udptracker.New(host, announceURL), nil
	default:
		return nil, fmt.Errorf("session: unsupported tracker scheme: %s", announceURL)
	}
}

func hasScheme(u, scheme string) bool {
	return len(u) > len(scheme) && u[:len(scheme)] == scheme
}

func udpHostPort(announceURL string) (string, error) {
	const prefix = "udp://"
	if len(announceURL) <= len(prefix) {
		return "", fmt.Errorf("session: malformed udp tracker url: %s", announceURL)
	}
	rest := announceURL[len(prefix):]
	for i, c := range rest {
		if c == '/' {
			rest = rest[:i]
			break
		}
	}
	return rest, nil
}
