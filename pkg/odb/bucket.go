package odb

import (
	"bytes"
	"fmt"

	"github.com/stratumdb/stratum/pkg/ref"
)

// bucket is the ordered set of serialized object records belonging to one
// class, keyed by the 16-byte reference header of each record.
type bucket struct {
	classRef ref.Ref
	set      *orderedSet
}

// compareBucketRecords orders records by reference header only, so a
// record and a bare 16-byte reference key compare as equal when they
// address the same object.
func compareBucketRecords(a, b []byte) int {
	return bytes.Compare(prefix16(a), prefix16(b))
}

func prefix16(b []byte) []byte {
	if len(b) > ref.Size {
		return b[:ref.Size]
	}
	return b
}

// insert adds a serialized record, failing when a record with the same
// reference is resident.
func (b bucket) insert(rec []byte) error {
	if !b.set.insert(rec, false) {
		return fmt.Errorf("object %s in class %s: %w",
			ref.FromBytes(rec), b.classRef, ErrReferenceClash)
	}
	return nil
}

// get returns the serialized record for r.
func (b bucket) get(r ref.Ref) ([]byte, bool) {
	return b.set.get(r.Bytes())
}

// replace swaps the resident record for r with rec, in place.
func (b bucket) replace(rec []byte) error {
	if !b.set.replace(rec) {
		return fmt.Errorf("object %s in class %s: %w",
			ref.FromBytes(rec), b.classRef, ErrNoSuchReference)
	}
	return nil
}

// upsert replaces the resident record or inserts a new one. The merge
// engine replays object changes through this.
func (b bucket) upsert(rec []byte) {
	if !b.set.replace(rec) {
		b.set.insert(rec, false)
	}
}

// contains reports whether an object with reference r is resident.
func (b bucket) contains(r ref.Ref) bool {
	return b.set.contains(r.Bytes())
}
