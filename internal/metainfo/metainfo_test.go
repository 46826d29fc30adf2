package metainfo

import (
	"bytes"
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func buildTorrent(t *testing.T) []byte {
	t.Helper()
	info := map[string]interface{}{
		"name":         "file.bin",
		"piece length": int64(16384),
		"pieces":       strings.Repeat("a", 20),
		"length":       int64(1024),
	}
	rawInfo, err := bencode.EncodeBytes(info)
	require.NoError(t, err)
	top := map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info":     bencode.RawMessage(rawInfo),
	}
	raw, err := bencode.EncodeBytes(top)
	require.NoError(t, err)
	return raw
}

func TestNewComputesInfoHash(t *testing.T) {
	raw := buildTorrent(t)
	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	want := sha1.Sum(mi.RawInfo)
	require.Equal(t, want, mi.Info.InfoHash, "info hash mismatch")
	require.Equal(t, 1, mi.Info.NumPieces())
	require.True(t, mi.Info.SingleFile)
	require.EqualValues(t, 1024, mi.Info.TotalLength)
}

func TestAnnounceTiersFallback(t *testing.T) {
	mi := &MetaInfo{Announce: "http://a/announce"}
	tiers := mi.AnnounceTiers()
	require.Len(t, tiers, 1)
	require.Len(t, tiers[0], 1)
	require.Equal(t, "http://a/announce", tiers[0][0])
}

func TestPieceLengthAtLastShort(t *testing.T) {
	info := &Info{PieceLength: 16384, TotalLength: 16384 + 100, Pieces: make([][20]byte, 2)}
	require.EqualValues(t, 16384, info.PieceLengthAt(0), "first piece should be full length")
	require.EqualValues(t, 100, info.PieceLengthAt(1), "last piece should be short")
}
