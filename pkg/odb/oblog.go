package odb

import (
	"bytes"

	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// Object log entry codes. Entries sort lexicographically over their whole
// byte record, so entries of one kind are contiguous and ordered by their
// key tuple.
const (
	logKeyAlloc      byte = 0x04
	logDataChange    byte = 0x07
	logListAdd       byte = 0x09
	logListRemove    byte = 0x0a
	logListChange    byte = 0x0b
	logObjectChange  byte = 0x0f
	logDictionaryAdd byte = 0x13
)

// objectLog is the append-only sorted journal of a transaction's logical
// events, consumed by the merge engine. Entries whose multiplicity matters
// (list adds and removes) always append; entries that mark state
// (object/data/list change, dictionary add) append once per key tuple.
type objectLog struct {
	set *orderedSet
}

func openObjectLog(t *substrate.Transaction) (*objectLog, error) {
	f, err := t.DataFile(keyObjectLog)
	if err != nil {
		return nil, err
	}
	return &objectLog{set: newOrderedSet(f, bytes.Compare)}, nil
}

// Entry builders. The leading code byte is followed by 16-byte tuples.

func entryKeyAlloc(k substrate.Key, r ref.Ref) []byte {
	b := make([]byte, 0, 33)
	b = append(b, logKeyAlloc)
	b = append(b, k.Encode()...)
	return append(b, r.Bytes()...)
}

func entryDataChange(dataRef ref.Ref) []byte {
	return append([]byte{logDataChange}, dataRef.Bytes()...)
}

func entryListAdd(listRef, objRef, listClassRef ref.Ref) []byte {
	return listOpEntry(logListAdd, listRef, objRef, listClassRef)
}

func entryListRemove(listRef, objRef, listClassRef ref.Ref) []byte {
	return listOpEntry(logListRemove, listRef, objRef, listClassRef)
}

func listOpEntry(code byte, listRef, objRef, listClassRef ref.Ref) []byte {
	b := make([]byte, 0, 49)
	b = append(b, code)
	b = append(b, listRef.Bytes()...)
	b = append(b, objRef.Bytes()...)
	return append(b, listClassRef.Bytes()...)
}

func entryListChange(listRef ref.Ref) []byte {
	return append([]byte{logListChange}, listRef.Bytes()...)
}

func entryObjectChange(classRef, objRef ref.Ref) []byte {
	b := make([]byte, 0, 33)
	b = append(b, logObjectChange)
	b = append(b, classRef.Bytes()...)
	return append(b, objRef.Bytes()...)
}

func entryDictionaryAdd(r ref.Ref) []byte {
	return append([]byte{logDictionaryAdd}, r.Bytes()...)
}

// append inserts an entry, keeping duplicates.
func (l *objectLog) append(entry []byte) {
	l.set.insert(entry, true)
}

// appendOnce inserts an entry unless an identical one is present.
func (l *objectLog) appendOnce(entry []byte) {
	l.set.insert(entry, false)
}

// hasPrefix reports whether any entry starts with the given bytes.
func (l *objectLog) hasPrefix(prefix []byte) bool {
	i := l.set.searchFirst(prefix)
	return i < l.set.count() && bytes.HasPrefix(l.set.record(i), prefix)
}

func (l *objectLog) hasKeyAlloc(k substrate.Key) bool {
	return l.hasPrefix(append([]byte{logKeyAlloc}, k.Encode()...))
}

func (l *objectLog) hasDataChange(dataRef ref.Ref) bool {
	return l.hasPrefix(entryDataChange(dataRef))
}

func (l *objectLog) hasListChange(listRef ref.Ref) bool {
	return l.hasPrefix(entryListChange(listRef))
}

func (l *objectLog) hasObjectChange(classRef, objRef ref.Ref) bool {
	return l.hasPrefix(entryObjectChange(classRef, objRef))
}

func (l *objectLog) hasDictionaryAdd(r ref.Ref) bool {
	return l.hasPrefix(entryDictionaryAdd(r))
}

// entries returns all entries with the given code, in key-tuple order.
func (l *objectLog) entries(code byte) [][]byte {
	var out [][]byte
	i := l.set.searchFirst([]byte{code})
	for ; i < l.set.count(); i++ {
		rec := l.set.record(i)
		if rec[0] != code {
			break
		}
		out = append(out, rec)
	}
	return out
}

// listOpEntries returns the ListAdd or ListRemove entries of one list.
func (l *objectLog) listOpEntries(code byte, listRef ref.Ref) [][]byte {
	prefix := append([]byte{code}, listRef.Bytes()...)
	var out [][]byte
	i := l.set.searchFirst(prefix)
	for ; i < l.set.count(); i++ {
		rec := l.set.record(i)
		if !bytes.HasPrefix(rec, prefix) {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Logging helpers used by the transaction layer.

func (l *objectLog) logKeyAlloc(k substrate.Key, r ref.Ref) {
	l.append(entryKeyAlloc(k, r))
}

func (l *objectLog) logDataChange(dataRef ref.Ref) {
	l.appendOnce(entryDataChange(dataRef))
}

func (l *objectLog) logObjectChange(classRef, objRef ref.Ref) {
	l.appendOnce(entryObjectChange(classRef, objRef))
}

func (l *objectLog) logListAdd(listRef, objRef, listClassRef ref.Ref) {
	l.append(entryListAdd(listRef, objRef, listClassRef))
	l.appendOnce(entryListChange(listRef))
}

func (l *objectLog) logListRemove(listRef, objRef, listClassRef ref.Ref) {
	l.append(entryListRemove(listRef, objRef, listClassRef))
	l.appendOnce(entryListChange(listRef))
}

func (l *objectLog) logDictionaryAdd(r ref.Ref) {
	l.appendOnce(entryDictionaryAdd(r))
}
