// Package resume defines how the control plane's torrent roster survives
// a process restart — info_hash, name, download dir, and optionally the
// .torrent path, paused flag and last-known bitfield.
package resume

// Spec is what gets persisted for one torrent.
type Spec struct {
	InfoHash    [20]byte
	Name        string
	DownloadDir string
	TorrentPath string // path to the .torrent file the metainfo was loaded from
	Paused      bool
	Bitfield    []byte
	NumPieces   uint32
}

// Resumer persists and restores the torrent roster for the control plane.
// It never stores file content or tracker state, only the roster entry
// needed to recreate a swarm.Torrent; a stored bitfield is not used to
// restore piece state, which swarm.Torrent re-verifies from disk.
type Resumer interface {
	Save(s Spec) error
	Remove(infoHash [20]byte) error
	All() ([]Spec, error)
	Close() error
}
