package peerprotocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, m), "write")
	got, err := ReadFrame(&buf)
	require.NoError(t, err, "read")
	return got
}

func TestRoundTripSimpleMessages(t *testing.T) {
	for _, id := range []MessageID{Choke, Unchoke, Interested, NotInterested} {
		got := roundTrip(t, SimpleMessage(id))
		assert.Equal(t, id, got.ID)
		assert.False(t, got.IsKeepAlive())
	}
}

func TestRoundTripHave(t *testing.T) {
	got := roundTrip(t, HaveMessage(42))
	assert.Equal(t, Have, got.ID)
	assert.EqualValues(t, 42, got.HaveIndex)
}

func TestRoundTripBitfield(t *testing.T) {
	b := []byte{0xFF, 0x80}
	got := roundTrip(t, BitfieldMessage(b))
	assert.Equal(t, Bitfield, got.ID)
	assert.True(t, bytes.Equal(got.BitfieldBytes, b))
}

func TestRoundTripRequestCancel(t *testing.T) {
	got := roundTrip(t, RequestMessage(1, 16384, 16384))
	assert.Equal(t, Request, got.ID)
	assert.EqualValues(t, 1, got.Index)
	assert.EqualValues(t, 16384, got.Begin)
	assert.EqualValues(t, 16384, got.Length)

	got = roundTrip(t, CancelMessage(1, 16384, 16384))
	assert.Equal(t, Cancel, got.ID)
}

func TestRoundTripPiece(t *testing.T) {
	data := []byte("some block bytes")
	got := roundTrip(t, PieceMessage(3, 0, data))
	assert.Equal(t, Piece, got.ID)
	assert.EqualValues(t, 3, got.PieceIndex)
	assert.EqualValues(t, 0, got.PieceBegin)
	assert.True(t, bytes.Equal(got.PieceData, data))
}

func TestRoundTripPort(t *testing.T) {
	got := roundTrip(t, PortMessage(6881))
	assert.Equal(t, Port, got.ID)
	assert.EqualValues(t, 6881, got.PortNum)
}

func TestRoundTripKeepAlive(t *testing.T) {
	got := roundTrip(t, KeepAliveMessage())
	assert.True(t, got.IsKeepAlive(), "expected keep-alive")
}

func TestParseBodyRejectsMalformedChoke(t *testing.T) {
	_, err := ParseBody(Choke, []byte{1})
	assert.Equal(t, ErrMalformedBody, err)
}

func TestOversizeFrameRejected(t *testing.T) {
	m := PieceMessage(0, 0, make([]byte, MaxMessageLength))
	var buf bytes.Buffer
	assert.Equal(t, ErrOversizeMessage, m.WriteTo(&buf))
}
