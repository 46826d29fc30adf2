// Package filestorage implements storage.Storage over one or more files
// under a download directory, matching the virtual byte ranges of a
// metainfo.Info.
package filestorage

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/arktorrent/swarm/internal/metainfo"
)

type fileRange struct {
	path   string
	offset int64 // start offset within the virtual concatenation
	length int64
}

// FileStorage maps piece/offset reads and writes onto real files. Open
// creates every file and truncates it to its declared length; a file that
// Open has not handled is opened (and created if missing) on the first
// ReadAt or WriteAt that touches it, and is not truncated then.
//
// Lock is the single exclusive lock for this store: callers that
// mutate piece state (write an incoming block, or hash-validate a
// completed piece) must hold it for the whole check-then-act sequence so a
// validation can never race with a late block from another peer session.
// Plain reads only need RLock, and may proceed concurrently with each
// other (but not with a write/validate spanning the same piece).
type FileStorage struct {
	sync.RWMutex

	dir    string
	ranges []fileRange
	files  map[string]*os.File
	opened bool
}

// New builds a FileStorage for info, rooted at dir. Files are not created
// until Open or the first ReadAt/WriteAt.
func New(info *metainfo.Info, dir string) *FileStorage {
	fs := &FileStorage{
		dir:   dir,
		files: make(map[string]*os.File),
	}
	var off int64
	for _, f := range info.Files {
		p := filepath.Join(append([]string{dir}, f.Path...)...)
		fs.ranges = append(fs.ranges, fileRange{path: p, offset: off, length: f.Length})
		off += f.Length
	}
	return fs
}

// Open creates missing parent directories and truncates every file to its
// declared length, allocating sparse space on disk. Partial files from a
// previous run are left intact up to their declared size.
func (fs *FileStorage) Open() error {
	fs.Lock()
	defer fs.Unlock()
	if fs.opened {
		return nil
	}
	for _, r := range fs.ranges {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
			return err
		}
		f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o640)
		if err != nil {
			return err
		}
		if err := f.Truncate(r.length); err != nil {
			f.Close()
			return err
		}
		fs.files[r.path] = f
	}
	fs.opened = true
	return nil
}

func (fs *FileStorage) fileFor(path string) (*os.File, error) {
	if f, ok := fs.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	fs.files[path] = f
	return f, nil
}

// ReadAt reads up to length bytes starting at the virtual offset. A
// truncated file yields a shorter-than-requested buffer and a nil error.
func (fs *FileStorage) ReadAt(offset int64, length int) ([]byte, error) {
	fs.RLock()
	defer fs.RUnlock()
	out := make([]byte, 0, length)
	remaining := length
	cur := offset
	for _, r := range fs.ranges {
		if remaining <= 0 {
			break
		}
		if cur >= r.offset+r.length {
			continue
		}
		if cur < r.offset {
			break // hole between files; nothing more to read contiguously
		}
		f, err := fs.fileFor(r.path)
		if err != nil {
			return out, err
		}
		within := cur - r.offset
		toRead := r.length - within
		if int64(remaining) < toRead {
			toRead = int64(remaining)
		}
		buf := make([]byte, toRead)
		n, err := f.ReadAt(buf, within)
		out = append(out, buf[:n]...)
		remaining -= n
		cur += int64(n)
		if err != nil && err != io.EOF {
			return out, err
		}
		if int64(n) < toRead {
			// short read: stop here, caller treats as missing content.
			break
		}
	}
	return out, nil
}

// WriteAt writes b starting at the virtual offset, spanning files as
// needed. Callers must hold the FileStorage lock (via Lock/Unlock) for the
// surrounding piece-state check, per the package doc.
func (fs *FileStorage) WriteAt(offset int64, b []byte) error {
	remaining := b
	cur := offset
	for _, r := range fs.ranges {
		if len(remaining) == 0 {
			break
		}
		if cur >= r.offset+r.length {
			continue
		}
		if cur < r.offset {
			break
		}
		f, err := fs.fileFor(r.path)
		if err != nil {
			return err
		}
		within := cur - r.offset
		toWrite := r.length - within
		if int64(len(remaining)) < toWrite {
			toWrite = int64(len(remaining))
		}
		if _, err := f.WriteAt(remaining[:toWrite], within); err != nil {
			return err
		}
		remaining = remaining[toWrite:]
		cur += toWrite
	}
	return nil
}

// Close flushes and releases every open file handle.
func (fs *FileStorage) Close() error {
	fs.Lock()
	defer fs.Unlock()
	var firstErr error
	for _, f := range fs.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
