package substrate

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSnapshots = []byte("snapshots")
	bucketFiles     = []byte("files")
	bucketPaths     = []byte("paths")
)

// File value markers in the files bucket.
const (
	fileTombstone byte = 0
	fileData      byte = 1
)

// boltBackend persists snapshots in a BoltDB file. Layout:
//
//	snapshots: address(16) -> parent address(16)
//	files:     address(16) || key(16) -> marker(1) || payload
//	paths:     name -> root addresses concatenated (16 each, last is current)
type boltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a durable store at <dataDir>/stratum.db.
func OpenBolt(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "stratum.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketFiles, bucketPaths} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return NewStore(&boltBackend{db: db}), nil
}

func fileKey(snapshot Address, key Key) []byte {
	b := make([]byte, 32)
	copy(b[:16], snapshot[:])
	key.Put(b[16:])
	return b
}

func (s *boltBackend) ReadFile(snapshot Address, key Key) ([]byte, bool, bool, error) {
	var data []byte
	var tombstone, found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get(fileKey(snapshot, key))
		if v == nil {
			return nil
		}
		found = true
		if v[0] == fileTombstone {
			tombstone = true
			return nil
		}
		data = append([]byte(nil), v[1:]...)
		return nil
	})
	return data, tombstone, found, err
}

func (s *boltBackend) Parent(snapshot Address) (Address, bool, error) {
	var parent Address
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(snapshot[:])
		if v == nil {
			return nil
		}
		found = true
		copy(parent[:], v)
		return nil
	})
	return parent, found, err
}

func (s *boltBackend) WriteSnapshot(addr, parent Address, files map[Key][]byte, deleted map[Key]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSnapshots).Put(addr[:], parent[:]); err != nil {
			return err
		}
		fb := tx.Bucket(bucketFiles)
		for k, data := range files {
			v := make([]byte, 1+len(data))
			v[0] = fileData
			copy(v[1:], data)
			if err := fb.Put(fileKey(addr, k), v); err != nil {
				return err
			}
		}
		for k := range deleted {
			if err := fb.Put(fileKey(addr, k), []byte{fileTombstone}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltBackend) CreatePath(name string, initial Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPaths)
		if b.Get([]byte(name)) != nil {
			return fmt.Errorf("path %q: %w", name, ErrPathExists)
		}
		return b.Put([]byte(name), initial[:])
	})
}

func (s *boltBackend) PathRoots(name string) ([]Address, error) {
	var roots []Address
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPaths).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("path %q: %w", name, ErrUnknownPath)
		}
		for i := 0; i+16 <= len(v); i += 16 {
			var a Address
			copy(a[:], v[i:i+16])
			roots = append(roots, a)
		}
		return nil
	})
	return roots, err
}

func (s *boltBackend) AppendRoot(name string, addr Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPaths)
		v := b.Get([]byte(name))
		if v == nil {
			return fmt.Errorf("path %q: %w", name, ErrUnknownPath)
		}
		next := make([]byte, 0, len(v)+16)
		next = append(next, v...)
		next = append(next, addr[:]...)
		return b.Put([]byte(name), next)
	})
}

func (s *boltBackend) Paths() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPaths).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *boltBackend) Close() error {
	return s.db.Close()
}
