package verifier

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arktorrent/swarm/internal/metainfo"
)

type memReader struct{ data []byte }

func (m memReader) ReadAt(offset int64, length int) ([]byte, error) {
	end := offset + int64(length)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	if offset > end {
		return nil, nil
	}
	return m.data[offset:end], nil
}

func TestVerifyPieceMatch(t *testing.T) {
	content := []byte("hello world, this is piece content")
	info := &metainfo.Info{
		PieceLength: int64(len(content)),
		TotalLength: int64(len(content)),
		Pieces:      [][20]byte{sha1.Sum(content)},
	}
	v := New(info, memReader{data: content})
	ok, err := v.VerifyPiece(0)
	require.NoError(t, err)
	require.True(t, ok, "expected match")
}

func TestVerifyPieceMismatchOnShortRead(t *testing.T) {
	info := &metainfo.Info{
		PieceLength: 100,
		TotalLength: 100,
		Pieces:      [][20]byte{sha1.Sum(make([]byte, 100))},
	}
	v := New(info, memReader{data: make([]byte, 10)}) // truncated
	ok, err := v.VerifyPiece(0)
	require.NoError(t, err)
	require.False(t, ok, "expected mismatch on short read")
}
