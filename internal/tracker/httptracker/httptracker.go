// Package httptracker implements the HTTP tracker announce protocol
// bencoded GET responses with a compact or dict peer list.
package httptracker

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zeebo/bencode"

	"github.com/arktorrent/swarm/internal/tracker"
)

// HTTPTracker announces over a plain HTTP GET to a tracker's announce URL.
type HTTPTracker struct {
	announceURL string
	client      *http.Client
}

// New returns an HTTPTracker for the given announce URL.
func New(announceURL string) *HTTPTracker {
	return &HTTPTracker{
		announceURL: announceURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTracker) URL() string { return t.announceURL }

type announceReply struct {
	FailureReason string             `bencode:"failure reason"`
	Interval      int64              `bencode:"interval"`
	Peers         bencode.RawMessage `bencode:"peers"`
}

// Announce performs one GET request and normalizes the bencoded reply.
func (t *HTTPTracker) Announce(req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u, err := url.Parse(t.announceURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Downloaded))
	q.Set("left", fmt.Sprintf("%d", req.Left))
	q.Set("compact", "1")
	if req.NumWant >= 0 {
		q.Set("numwant", fmt.Sprintf("%d", req.NumWant))
	}
	if ev := eventString(req.Event); ev != "" {
		q.Set("event", ev)
	}
	u.RawQuery = q.Encode()

	resp, err := t.client.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &tracker.ErrTracker{Message: fmt.Sprintf("http %d: %s", resp.StatusCode, body)}
	}

	var reply announceReply
	if err := bencode.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	if reply.FailureReason != "" {
		return nil, &tracker.ErrTracker{Message: reply.FailureReason}
	}

	peers, err := decodePeers(reply.Peers)
	if err != nil {
		return nil, err
	}
	return &tracker.AnnounceResponse{
		Interval: time.Duration(reply.Interval) * time.Second,
		Peers:    peers,
	}, nil
}

func eventString(e tracker.Event) string {
	switch e {
	case tracker.EventStarted:
		return "started"
	case tracker.EventCompleted:
		return "completed"
	case tracker.EventStopped:
		return "stopped"
	default:
		return ""
	}
}
