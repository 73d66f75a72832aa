package odb

import (
	"encoding/binary"
	"sort"

	"github.com/stratumdb/stratum/pkg/substrate"
)

// orderedSet keeps variable-length records sorted in a byte-file. Each
// record is stored with a 4-byte big-endian length prefix; order is defined
// by the set's comparator. A set instance owns its file for the lifetime of
// the transaction (instances are cached per file), so the record index can
// be maintained incrementally across mutations.
type orderedSet struct {
	f    *substrate.File
	cmp  func(a, b []byte) int
	offs []int64
	idx  bool
}

func newOrderedSet(f *substrate.File, cmp func(a, b []byte) int) *orderedSet {
	return &orderedSet{f: f, cmp: cmp}
}

func (s *orderedSet) buildIndex() {
	if s.idx {
		return
	}
	size := s.f.Size()
	var lb [4]byte
	for off := int64(0); off < size; {
		s.offs = append(s.offs, off)
		s.f.ReadAt(lb[:], off)
		off += 4 + int64(binary.BigEndian.Uint32(lb[:]))
	}
	s.idx = true
}

// count returns the number of records.
func (s *orderedSet) count() int {
	s.buildIndex()
	return len(s.offs)
}

// record returns record i without its length prefix.
func (s *orderedSet) record(i int) []byte {
	s.buildIndex()
	var lb [4]byte
	s.f.ReadAt(lb[:], s.offs[i])
	n := binary.BigEndian.Uint32(lb[:])
	rec := make([]byte, n)
	s.f.ReadAt(rec, s.offs[i]+4)
	return rec
}

// searchFirst returns the index of the first record not less than key.
func (s *orderedSet) searchFirst(key []byte) int {
	s.buildIndex()
	return sort.Search(len(s.offs), func(i int) bool {
		return s.cmp(s.record(i), key) >= 0
	})
}

// searchLast returns the index one past the last record not greater than key.
func (s *orderedSet) searchLast(key []byte) int {
	s.buildIndex()
	return sort.Search(len(s.offs), func(i int) bool {
		return s.cmp(s.record(i), key) > 0
	})
}

// contains reports whether a record equal to key (under the comparator)
// is present.
func (s *orderedSet) contains(key []byte) bool {
	i := s.searchFirst(key)
	return i < s.count() && s.cmp(s.record(i), key) == 0
}

// get returns the record equal to key, or found=false.
func (s *orderedSet) get(key []byte) ([]byte, bool) {
	i := s.searchFirst(key)
	if i < s.count() && s.cmp(s.record(i), key) == 0 {
		return s.record(i), true
	}
	return nil, false
}

// insert adds rec in order. With allowDup false and an equal record
// resident, nothing changes and insert reports false.
func (s *orderedSet) insert(rec []byte, allowDup bool) bool {
	i := s.searchLast(rec)
	if !allowDup && i > 0 && s.cmp(s.record(i-1), rec) == 0 {
		return false
	}
	s.insertAt(i, rec)
	return true
}

// replace overwrites the record equal to rec in place. Reports false when
// no equal record is resident.
func (s *orderedSet) replace(rec []byte) bool {
	i := s.searchFirst(rec)
	if i >= s.count() || s.cmp(s.record(i), rec) != 0 {
		return false
	}
	var lb [4]byte
	s.f.ReadAt(lb[:], s.offs[i])
	old := int64(binary.BigEndian.Uint32(lb[:]))
	delta := int64(len(rec)) - old
	if delta != 0 {
		s.f.Shift(s.offs[i]+4, delta)
		for j := i + 1; j < len(s.offs); j++ {
			s.offs[j] += delta
		}
	}
	binary.BigEndian.PutUint32(lb[:], uint32(len(rec)))
	s.f.WriteAt(lb[:], s.offs[i])
	s.f.WriteAt(rec, s.offs[i]+4)
	return true
}

func (s *orderedSet) insertAt(i int, rec []byte) {
	off := s.f.Size()
	if i < len(s.offs) {
		off = s.offs[i]
	}
	n := int64(4 + len(rec))
	s.f.Shift(off, n)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(rec)))
	s.f.WriteAt(lb[:], off)
	s.f.WriteAt(rec, off+4)
	s.offs = append(s.offs, 0)
	copy(s.offs[i+1:], s.offs[i:])
	s.offs[i] = off
	for j := i + 1; j < len(s.offs); j++ {
		s.offs[j] += n
	}
}
