package odb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// lookupRecordSize is the fixed size of a reference-to-key record: the
// 16-byte reference followed by the 16-byte encoded key.
const lookupRecordSize = 32

// lookupTable is the sorted on-substrate map from reference to storage key.
// Each reference has at most one resident key at a time.
type lookupTable struct {
	f *substrate.File
}

func (l lookupTable) count() int64 {
	return l.f.Size() / lookupRecordSize
}

func (l lookupTable) recordAt(i int64) []byte {
	rec := make([]byte, lookupRecordSize)
	l.f.ReadAt(rec, i*lookupRecordSize)
	return rec
}

// search returns the index of the first record whose reference is not less
// than r.
func (l lookupTable) search(r ref.Ref) int64 {
	key := r.Bytes()
	n := l.count()
	return int64(sort.Search(int(n), func(i int) bool {
		return bytes.Compare(l.recordAt(int64(i))[:ref.Size], key) >= 0
	}))
}

// get returns the resident key for r.
func (l lookupTable) get(r ref.Ref) (substrate.Key, bool) {
	i := l.search(r)
	if i >= l.count() {
		return substrate.Key{}, false
	}
	rec := l.recordAt(i)
	if ref.FromBytes(rec) != r {
		return substrate.Key{}, false
	}
	return substrate.DecodeKey(rec[ref.Size:]), true
}

// put inserts or replaces the key for r.
func (l lookupTable) put(r ref.Ref, k substrate.Key) {
	rec := make([]byte, lookupRecordSize)
	r.Put(rec)
	k.Put(rec[ref.Size:])
	i := l.search(r)
	if i < l.count() && ref.FromBytes(l.recordAt(i)) == r {
		l.f.WriteAt(rec, i*lookupRecordSize)
		return
	}
	l.f.Shift(i*lookupRecordSize, lookupRecordSize)
	l.f.WriteAt(rec, i*lookupRecordSize)
}

// remove deletes the record for r, if resident.
func (l lookupTable) remove(r ref.Ref) bool {
	i := l.search(r)
	if i >= l.count() || ref.FromBytes(l.recordAt(i)) != r {
		return false
	}
	l.f.Shift(i*lookupRecordSize, -lookupRecordSize)
	return true
}

// keyCounter is the 128-bit allocation counter behind resource keys.
// Allocated keys are (0, 10+high, low); the counter advances by a small
// random stride so concurrent transactions starting from the same base are
// unlikely to produce long runs of clashing keys.
type keyCounter struct {
	f *substrate.File
}

func (c keyCounter) read() (high, low uint64) {
	if c.f.Size() < 16 {
		return 0, 1
	}
	var b [16]byte
	c.f.ReadAt(b[:], 0)
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])
}

func (c keyCounter) write(high, low uint64) {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], high)
	binary.BigEndian.PutUint64(b[8:16], low)
	c.f.WriteAt(b[:], 0)
}

// next derives the key at the current counter position and advances the
// counter by a random stride in 1..128.
func (c keyCounter) next() substrate.Key {
	high, low := c.read()
	key := keyForCounter(high, low)
	stride := uint64(rand.IntN(128) + 1)
	if low+stride < low {
		high++
	}
	c.write(high, low+stride)
	return key
}

// advancePast moves the counter beyond k if it is not already there.
func (c keyCounter) advancePast(k substrate.Key) {
	high, low := c.read()
	if keyForCounter(high, low).Compare(k) > 0 {
		return
	}
	kh, kl := uint64(k.Secondary-10), uint64(k.Primary)
	stride := uint64(rand.IntN(128) + 1)
	if kl+stride < kl {
		kh++
	}
	c.write(kh, kl+stride)
}

func keyForCounter(high, low uint64) substrate.Key {
	if high > uint64(0x7fffffff-10) {
		// The secondary key component is 32-bit; running the counter that
		// far means stepping through ~2^95 counter positions.
		panic(fmt.Sprintf("key counter high word %d out of range", high))
	}
	return substrate.Key{Type: 0, Secondary: int32(10 + high), Primary: int64(low)}
}
