package announcer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/tracker"
)

type fakeTracker struct {
	url   string
	fail  bool
	calls int
}

func (f *fakeTracker) URL() string { return f.url }
func (f *fakeTracker) Announce(req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("boom")
	}
	return &tracker.AnnounceResponse{}, nil
}

func TestAnnounceOncePromotesSuccessfulURL(t *testing.T) {
	bad := &fakeTracker{url: "bad", fail: true}
	good := &fakeTracker{url: "good"}
	a := New([][]tracker.Tracker{{bad, good}}, logger.New())

	r := a.AnnounceOnce(tracker.AnnounceRequest{})
	require.NotNil(t, r, "expected good tracker to succeed")
	assert.Equal(t, "good", r.Tracker.URL())
	assert.Equal(t, "good", a.tiers[0][0].URL(), "expected good tracker promoted to head")
}

func TestAnnounceOnceAllFail(t *testing.T) {
	bad1 := &fakeTracker{url: "bad1", fail: true}
	bad2 := &fakeTracker{url: "bad2", fail: true}
	a := New([][]tracker.Tracker{{bad1, bad2}}, logger.New())
	assert.Nil(t, a.AnnounceOnce(tracker.AnnounceRequest{}), "expected nil result when every tracker fails")
}
