// Package storage defines the on-disk collaborator the swarm reads and
// writes piece data through.
package storage

// Storage maps the torrent's virtual byte range (the concatenation of all
// its files) onto one or more real files.
type Storage interface {
	// Open lazily creates/truncates the underlying files to their declared
	// lengths. Safe to call more than once.
	Open() error
	// ReadAt reads length bytes at offset. A short read (truncated file)
	// returns fewer bytes than requested with a nil error; callers treat a
	// short result as "missing content", not a transport error.
	ReadAt(offset int64, length int) ([]byte, error)
	// WriteAt writes b at offset, creating any missing parent directories
	// and extending files as needed.
	WriteAt(offset int64, b []byte) error
	// Close flushes and releases file handles.
	Close() error
}
