// Package boltdbresumer persists the control-plane torrent roster in a
// boltdb/bolt database, backing Add/Pause/Resume/Remove across restarts.
package boltdbresumer

import (
	"bytes"
	"encoding/gob"

	"github.com/boltdb/bolt"

	"github.com/arktorrent/swarm/internal/resume"
)

var torrentsBucket = []byte("torrents")

// Resumer implements resume.Resumer over a bolt.DB.
type Resumer struct {
	db *bolt.DB
}

// New opens (creating if needed) a bolt database at path and ensures the
// torrents bucket exists.
func New(path string) (*Resumer, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(torrentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Resumer{db: db}, nil
}

// gobSpec mirrors resume.Spec for encoding/gob, which needs exported,
// concrete fields with no interface members — resume.Spec already
// satisfies that, so this is a direct alias kept separate in case the
// on-disk shape needs to diverge from the in-memory one later.
type gobSpec = resume.Spec

func (r *Resumer) Save(s resume.Spec) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(gobSpec(s)); err != nil {
			return err
		}
		return tx.Bucket(torrentsBucket).Put(s.InfoHash[:], buf.Bytes())
	})
}

func (r *Resumer) Remove(infoHash [20]byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).Delete(infoHash[:])
	})
}

func (r *Resumer) All() ([]resume.Spec, error) {
	var out []resume.Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(torrentsBucket)
		return b.ForEach(func(k, v []byte) error {
			var s gobSpec
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&s); err != nil {
				return err
			}
			out = append(out, resume.Spec(s))
			return nil
		})
	})
	return out, err
}

func (r *Resumer) Close() error {
	return r.db.Close()
}
