// Package tracker defines the common announce/scrape surface implemented
// by the HTTP and UDP tracker clients.
package tracker

import (
	"errors"
	"net"
	"time"
)

// Event is the BitTorrent announce event, BEP 3/15. num_want and event are
// kept as signed ints per BEP 15 (some trackers unpack these as unsigned,
// which this implementation deliberately avoids).
type Event int32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// AnnounceRequest mirrors the per-torrent counters the client reports on
// every announce.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int32 // -1 means "use tracker default"
}

// AnnounceResponse is what every tracker implementation normalizes its
// reply to.
type AnnounceResponse struct {
	Interval time.Duration
	Leechers int32
	Seeders  int32
	Peers    []*net.TCPAddr
}

// ErrTracker wraps a tracker-reported failure (HTTP 4xx/5xx, bencode
// "failure reason", or UDP error action).
type ErrTracker struct {
	Message string
}

func (e *ErrTracker) Error() string { return "tracker: " + e.Message }

// Tracker announces a torrent's status and asks for peers.
type Tracker interface {
	// Announce performs one announce round-trip with the given event.
	Announce(req AnnounceRequest) (*AnnounceResponse, error)
	// URL returns the tracker's announce URL, for logging and tier
	// bookkeeping.
	URL() string
}

var errNotImplemented = errors.New("tracker: scrape not implemented")

// Scraper is optionally implemented by trackers that support scrape.
type Scraper interface {
	Scrape(infoHash [20]byte) (seeders, leechers, completed int32, err error)
}

// ErrScrapeUnsupported is returned by trackers with no Scraper support.
var ErrScrapeUnsupported = errNotImplemented
