package odb

import (
	"github.com/stratumdb/stratum/pkg/ref"
)

// Dictionary entry tags. Every binding is stored twice, once in each
// orientation, so both directions resolve with one ordered search.
const (
	dictByType byte = 0x01
	dictByRef  byte = 0x02
)

// dictionary is the bidirectional {type string <-> reference} map stored as
// an ordered set with two composite-key encodings per binding.
type dictionary struct {
	set *orderedSet
}

// compareDictEntries orders entries by tag, then by (type, ref) for
// dictByType and (ref, type) for dictByRef. Strings compare by decoded
// value, not by their length-prefixed encoding.
func compareDictEntries(a, b []byte) int {
	if a[0] != b[0] {
		if a[0] < b[0] {
			return -1
		}
		return 1
	}
	at, ar := decodeDictEntry(a)
	bt, br := decodeDictEntry(b)
	var c int
	if a[0] == dictByType {
		if c = compareStrings(at, bt); c == 0 {
			c = ar.Compare(br)
		}
	} else {
		if c = ar.Compare(br); c == 0 {
			c = compareStrings(at, bt)
		}
	}
	return c
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func encodeDictEntry(tag byte, typeStr string, r ref.Ref) []byte {
	b := []byte{tag}
	if tag == dictByType {
		b = appendUTF(b, typeStr)
		return append(b, r.Bytes()...)
	}
	b = append(b, r.Bytes()...)
	return appendUTF(b, typeStr)
}

func decodeDictEntry(b []byte) (string, ref.Ref) {
	if b[0] == dictByType {
		s, off, err := readUTF(b, 1)
		if err != nil {
			return "", ref.Nil
		}
		return s, ref.FromBytes(b[off:])
	}
	s, _, err := readUTF(b, 1+ref.Size)
	if err != nil {
		return "", ref.Nil
	}
	return s, ref.FromBytes(b[1:])
}

// add inserts both orientations of a binding. Re-adding the same
// (type, ref) pair is a no-op.
func (d dictionary) add(typeStr string, r ref.Ref) {
	d.set.insert(encodeDictEntry(dictByType, typeStr, r), false)
	d.set.insert(encodeDictEntry(dictByRef, typeStr, r), false)
}

// refForType resolves a type string to its reference.
func (d dictionary) refForType(typeStr string) (ref.Ref, bool) {
	key := encodeDictEntry(dictByType, typeStr, ref.Nil)
	i := d.set.searchFirst(key)
	if i >= d.set.count() {
		return ref.Nil, false
	}
	rec := d.set.record(i)
	if rec[0] != dictByType {
		return ref.Nil, false
	}
	t, r := decodeDictEntry(rec)
	if t != typeStr {
		return ref.Nil, false
	}
	return r, true
}

// typeForRef resolves a reference to its type string.
func (d dictionary) typeForRef(r ref.Ref) (string, bool) {
	key := encodeDictEntry(dictByRef, "", r)
	i := d.set.searchFirst(key)
	if i >= d.set.count() {
		return "", false
	}
	rec := d.set.record(i)
	if rec[0] != dictByRef {
		return "", false
	}
	t, rr := decodeDictEntry(rec)
	if rr != r {
		return "", false
	}
	return t, true
}
