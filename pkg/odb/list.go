package odb

import (
	"fmt"
	"strings"

	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// List is a handle on an ordered reference list: a contiguous byte-file of
// 16-byte references kept sorted by the list's order spec, either by
// reference value or by a string field of the referenced objects.
//
// A handle may be a bounded view produced by Sub, Head or Tail; views share
// the underlying file and their bounds are inclusive-lower/exclusive-upper
// key ranges clamped to the parent view. Queries respect the view; Add and
// Remove operate on the underlying list.
type List struct {
	tx       *Transaction
	ref      ref.Ref
	classRef ref.Ref
	spec     listSpec
	f        *substrate.File

	lower *string
	upper *string

	elemClass *Class
}

// searchKey is one side of a list comparison: a resident reference or a
// caller-supplied external key string.
type searchKey struct {
	ref      ref.Ref
	key      string
	external bool
}

func refKey(r ref.Ref) searchKey     { return searchKey{ref: r} }
func externalKey(k string) searchKey { return searchKey{key: k, external: true} }

// Ref returns the list's own reference.
func (l *List) Ref() ref.Ref { return l.ref }

// OrderedByKey reports whether the list is ordered by a string field of
// its elements.
func (l *List) OrderedByKey() bool { return l.spec.byKey() }

func (l *List) count() int64 {
	return l.f.Size() / ref.Size
}

func (l *List) entry(i int64) ref.Ref {
	var b [ref.Size]byte
	l.f.ReadAt(b[:], i*ref.Size)
	return ref.FromBytes(b[:])
}

func (l *List) elementClass() (*Class, error) {
	if l.elemClass == nil {
		c, err := l.tx.classFor(l.spec.ElementRef)
		if err != nil {
			return nil, err
		}
		l.elemClass = c
	}
	return l.elemClass, nil
}

// keyOf resolves the order key of a resident reference.
func (l *List) keyOf(r ref.Ref) (string, error) {
	class, err := l.elementClass()
	if err != nil {
		return "", err
	}
	obj, err := l.tx.GetObject(class, r)
	if err != nil {
		return "", err
	}
	return obj.GetString(l.spec.KeyField)
}

func (l *List) compareKeys(a, b string) int {
	c := strings.Compare(a, b)
	if l.spec.Descending {
		return -c
	}
	return c
}

// compareEntry orders a resident entry against a search key. On key-ordered
// lists that allow duplicates, a non-external search tie-breaks by
// reference value so exact-position searches stay logarithmic.
func (l *List) compareEntry(r ref.Ref, k searchKey) (int, error) {
	if !l.spec.byKey() {
		if k.external {
			return 0, ErrUnsupportedOrder
		}
		return r.Compare(k.ref), nil
	}
	ka, err := l.keyOf(r)
	if err != nil {
		return 0, err
	}
	kb := k.key
	if !k.external {
		if kb, err = l.keyOf(k.ref); err != nil {
			return 0, err
		}
	}
	if c := l.compareKeys(ka, kb); c != 0 {
		return c, nil
	}
	if !k.external && l.spec.AllowDups {
		return r.Compare(k.ref), nil
	}
	return 0, nil
}

// searchFirst returns the first index in [lo, hi) whose entry is not less
// than k.
func (l *List) searchFirst(k searchKey, lo, hi int64) (int64, error) {
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := l.compareEntry(l.entry(mid), k)
		if err != nil {
			return 0, err
		}
		if c >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// searchLast returns the first index in [lo, hi) whose entry is greater
// than k.
func (l *List) searchLast(k searchKey, lo, hi int64) (int64, error) {
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := l.compareEntry(l.entry(mid), k)
		if err != nil {
			return 0, err
		}
		if c > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// bounds resolves the view to entry positions [start, end).
func (l *List) bounds() (int64, int64, error) {
	start, end := int64(0), l.count()
	var err error
	if l.lower != nil {
		if start, err = l.searchFirst(externalKey(*l.lower), 0, end); err != nil {
			return 0, 0, err
		}
	}
	if l.upper != nil {
		if end, err = l.searchFirst(externalKey(*l.upper), start, end); err != nil {
			return 0, 0, err
		}
	}
	return start, end, nil
}

// Size returns the number of entries in the view.
func (l *List) Size() (int64, error) {
	if err := l.tx.usable(); err != nil {
		return 0, err
	}
	start, end, err := l.bounds()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// Get returns the reference at position i of the view.
func (l *List) Get(i int64) (ref.Ref, error) {
	if err := l.tx.usable(); err != nil {
		return ref.Nil, err
	}
	start, end, err := l.bounds()
	if err != nil {
		return ref.Nil, err
	}
	if i < 0 || start+i >= end {
		return ref.Nil, fmt.Errorf("list index %d out of range [0,%d)", i, end-start)
	}
	return l.entry(start + i), nil
}

// Refs returns the view's references in order.
func (l *List) Refs() ([]ref.Ref, error) {
	if err := l.tx.usable(); err != nil {
		return nil, err
	}
	start, end, err := l.bounds()
	if err != nil {
		return nil, err
	}
	out := make([]ref.Ref, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, l.entry(i))
	}
	return out, nil
}

// Each calls fn for every reference in the view, in order.
func (l *List) Each(fn func(ref.Ref) error) error {
	refs, err := l.Refs()
	if err != nil {
		return err
	}
	for _, r := range refs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// First returns the first reference of the view.
func (l *List) First() (ref.Ref, error) {
	return l.Get(0)
}

// Last returns the last reference of the view.
func (l *List) Last() (ref.Ref, error) {
	n, err := l.Size()
	if err != nil {
		return ref.Nil, err
	}
	return l.Get(n - 1)
}

// Add inserts an object into the list.
func (l *List) Add(o *Object) error {
	return l.AddRef(o.Ref())
}

// AddRef inserts a reference in order. On a unique list a resident entry
// with an equal key fails with a constraint violation; the transaction
// stays valid.
func (l *List) AddRef(r ref.Ref) error {
	if err := l.tx.mutable(); err != nil {
		return err
	}
	class, err := l.elementClass()
	if err != nil {
		return err
	}
	b, err := l.tx.bucketFor(class.Ref())
	if err != nil {
		return err
	}
	if !b.contains(r) {
		return fmt.Errorf("list element %s of class %s: %w", r, class.Name(), ErrNoSuchReference)
	}
	i, err := l.searchLast(refKey(r), 0, l.count())
	if err != nil {
		return err
	}
	if !l.spec.AllowDups && i > 0 {
		c, err := l.compareEntry(l.entry(i-1), refKey(r))
		if err != nil {
			return err
		}
		if c == 0 {
			return constraintf("duplicate entry %s in unique list %s", r, l.ref)
		}
	}
	l.f.Shift(i*ref.Size, ref.Size)
	l.f.WriteAt(r.Bytes(), i*ref.Size)
	l.tx.log.logListAdd(l.ref, r, l.classRef)
	return nil
}

// Remove deletes the first entry holding exactly r. It reports false when
// r is not resident.
func (l *List) Remove(r ref.Ref) (bool, error) {
	if err := l.tx.mutable(); err != nil {
		return false, err
	}
	i, err := l.searchFirst(refKey(r), 0, l.count())
	if err != nil {
		return false, err
	}
	// Entries with an equal order key may precede r itself.
	for ; i < l.count(); i++ {
		c, err := l.compareEntry(l.entry(i), refKey(r))
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
		if l.entry(i) == r {
			break
		}
	}
	if i >= l.count() {
		return false, nil
	}
	l.removeAt(i, r)
	return true, nil
}

// RemoveAll deletes every entry holding r and returns how many were
// removed.
func (l *List) RemoveAll(r ref.Ref) (int, error) {
	if err := l.tx.mutable(); err != nil {
		return 0, err
	}
	first, err := l.searchFirst(refKey(r), 0, l.count())
	if err != nil {
		return 0, err
	}
	last, err := l.searchLast(refKey(r), first, l.count())
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := first; i < last; {
		if l.entry(i) == r {
			l.removeAt(i, r)
			last--
			removed++
		} else {
			i++
		}
	}
	return removed, nil
}

// RemoveRange deletes every entry whose key falls in [fromKey, toKey) and
// returns how many were removed. Every removed reference is journaled
// individually.
func (l *List) RemoveRange(fromKey, toKey string) (int, error) {
	if err := l.tx.mutable(); err != nil {
		return 0, err
	}
	if !l.spec.byKey() {
		return 0, ErrUnsupportedOrder
	}
	first, err := l.searchFirst(externalKey(fromKey), 0, l.count())
	if err != nil {
		return 0, err
	}
	last, err := l.searchFirst(externalKey(toKey), first, l.count())
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := first; i < last; last-- {
		l.removeAt(i, l.entry(i))
		removed++
	}
	return removed, nil
}

func (l *List) removeAt(i int64, r ref.Ref) {
	l.f.Shift(i*ref.Size, -ref.Size)
	l.tx.log.logListRemove(l.ref, r, l.classRef)
}

// Contains reports whether r is resident in the view.
func (l *List) Contains(r ref.Ref) (bool, error) {
	i, err := l.IndexOf(r)
	return i >= 0, err
}

// IndexOf returns the position of r within the view, or -1.
func (l *List) IndexOf(r ref.Ref) (int64, error) {
	if err := l.tx.usable(); err != nil {
		return 0, err
	}
	start, end, err := l.bounds()
	if err != nil {
		return 0, err
	}
	i, err := l.searchFirst(refKey(r), start, end)
	if err != nil {
		return 0, err
	}
	for ; i < end; i++ {
		c, err := l.compareEntry(l.entry(i), refKey(r))
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return -1, nil
		}
		if l.entry(i) == r {
			return i - start, nil
		}
	}
	return -1, nil
}

// IndexOfKey returns the position of the first entry with the given key
// within the view, or -1.
func (l *List) IndexOfKey(key string) (int64, error) {
	if err := l.tx.usable(); err != nil {
		return 0, err
	}
	if !l.spec.byKey() {
		return 0, ErrUnsupportedOrder
	}
	start, end, err := l.bounds()
	if err != nil {
		return 0, err
	}
	i, err := l.searchFirst(externalKey(key), start, end)
	if err != nil {
		return 0, err
	}
	if i >= end {
		return -1, nil
	}
	c, err := l.compareEntry(l.entry(i), externalKey(key))
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return -1, nil
	}
	return i - start, nil
}

// ContainsKey reports whether any entry in the view has the given key.
func (l *List) ContainsKey(key string) (bool, error) {
	i, err := l.IndexOfKey(key)
	return i >= 0, err
}

// findKey resolves a key to its entry on a unique key-ordered list.
func (l *List) findKey(key string) (ref.Ref, bool, error) {
	if !l.spec.byKey() {
		return ref.Nil, false, ErrUnsupportedOrder
	}
	i, err := l.searchFirst(externalKey(key), 0, l.count())
	if err != nil {
		return ref.Nil, false, err
	}
	if i >= l.count() {
		return ref.Nil, false, nil
	}
	c, err := l.compareEntry(l.entry(i), externalKey(key))
	if err != nil {
		return ref.Nil, false, err
	}
	if c != 0 {
		return ref.Nil, false, nil
	}
	return l.entry(i), true, nil
}

// Sub returns a view over keys in [fromKey, toKey), clamped to this view.
func (l *List) Sub(fromKey, toKey string) (*List, error) {
	if !l.spec.byKey() {
		return nil, ErrUnsupportedOrder
	}
	v := l.view()
	v.lower = l.clampLower(fromKey)
	v.upper = l.clampUpper(toKey)
	return v, nil
}

// Head returns a view over keys before toKey, clamped to this view.
func (l *List) Head(toKey string) (*List, error) {
	if !l.spec.byKey() {
		return nil, ErrUnsupportedOrder
	}
	v := l.view()
	v.upper = l.clampUpper(toKey)
	return v, nil
}

// Tail returns a view over keys from fromKey on, clamped to this view.
func (l *List) Tail(fromKey string) (*List, error) {
	if !l.spec.byKey() {
		return nil, ErrUnsupportedOrder
	}
	v := l.view()
	v.lower = l.clampLower(fromKey)
	return v, nil
}

func (l *List) view() *List {
	return &List{
		tx: l.tx, ref: l.ref, classRef: l.classRef, spec: l.spec, f: l.f,
		lower: l.lower, upper: l.upper, elemClass: l.elemClass,
	}
}

func (l *List) clampLower(fromKey string) *string {
	if l.lower != nil && l.compareKeys(*l.lower, fromKey) > 0 {
		return l.lower
	}
	return &fromKey
}

func (l *List) clampUpper(toKey string) *string {
	if l.upper != nil && l.compareKeys(*l.upper, toKey) < 0 {
		return l.upper
	}
	return &toKey
}
