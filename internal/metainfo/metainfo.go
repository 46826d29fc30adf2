// Package metainfo reads bencoded .torrent files into the immutable record
// the swarm engine consumes. Producing that record is a thin collaborator
// step; the swarm itself never mutates a MetaInfo after New returns it.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo is the top-level bencoded torrent file dictionary.
type MetaInfo struct {
	Info         *Info              `bencode:"-"`
	RawInfo      bencode.RawMessage `bencode:"info" json:"-"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	CreationDate int64              `bencode:"creation date"`
	Comment      string             `bencode:"comment"`
	CreatedBy    string             `bencode:"created by"`
}

// New decodes a bencoded torrent file and derives its Info, including the
// SHA-1 info_hash of the raw info dict exactly as it appeared on the wire.
func New(r io.Reader) (*MetaInfo, error) {
	var t MetaInfo
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.RawInfo) == 0 {
		return nil, errors.New("metainfo: no info dict in torrent file")
	}
	t.Info, err = NewInfo(t.RawInfo)
	return &t, err
}

// AnnounceTiers returns the announce-list if present, falling back to a
// single tier containing Announce (BEP 12).
func (m *MetaInfo) AnnounceTiers() [][]string {
	if len(m.AnnounceList) > 0 {
		return m.AnnounceList
	}
	if m.Announce == "" {
		return nil
	}
	return [][]string{{m.Announce}}
}

// File describes one file within a (possibly multi-file) torrent, relative
// to the download directory.
type File struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// rawInfo mirrors the bencoded info dictionary fields we need.
type rawInfo struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
	Files       []File `bencode:"files"`
}

// Info is the parsed, immutable info dictionary: piece layout, file entries
// and the derived info_hash.
type Info struct {
	InfoHash    [20]byte
	Name        string
	PieceLength int64
	Pieces      [][20]byte
	Files       []File
	TotalLength int64
	SingleFile  bool
}

// NewInfo parses a raw (still-bencoded) info dict and computes its info_hash
// as the SHA-1 of exactly those bytes, per BEP 3.
func NewInfo(raw bencode.RawMessage) (*Info, error) {
	var ri rawInfo
	if err := bencode.DecodeBytes(raw, &ri); err != nil {
		return nil, err
	}
	if ri.PieceLength <= 0 {
		return nil, errors.New("metainfo: zero or negative piece length")
	}
	if len(ri.Pieces)%20 != 0 {
		return nil, errors.New("metainfo: pieces length is not a multiple of 20")
	}
	info := &Info{
		InfoHash:    sha1.Sum(raw),
		Name:        ri.Name,
		PieceLength: ri.PieceLength,
	}
	numPieces := len(ri.Pieces) / 20
	info.Pieces = make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(info.Pieces[i][:], ri.Pieces[i*20:(i+1)*20])
	}
	switch {
	case ri.Length > 0 && len(ri.Files) == 0:
		info.SingleFile = true
		info.Files = []File{{Length: ri.Length, Path: []string{ri.Name}}}
		info.TotalLength = ri.Length
	case len(ri.Files) > 0:
		info.Files = ri.Files
		for _, f := range ri.Files {
			info.TotalLength += f.Length
		}
	default:
		return nil, errors.New("metainfo: info dict has neither length nor files")
	}
	return info, nil
}

// NumPieces returns the number of pieces.
func (i *Info) NumPieces() int { return len(i.Pieces) }

// PieceLengthAt returns the real length of piece index (the last piece may
// be shorter than PieceLength).
func (i *Info) PieceLengthAt(index int) int64 {
	if index == len(i.Pieces)-1 {
		rem := i.TotalLength % i.PieceLength
		if rem != 0 {
			return rem
		}
	}
	return i.PieceLength
}
