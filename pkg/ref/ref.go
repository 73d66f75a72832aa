package ref

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the encoded size of a reference in bytes.
const Size = 16

// Ref is a 128-bit identifier for a persisted entity (object, class, list
// or data blob). References are totally ordered by (High, Low) as unsigned
// integers. Uniqueness of freshly allocated references is probabilistic.
// The merge engine never remaps a reference: it remaps clashing storage
// keys, and faults when two proposals change an object at the same
// reference.
type Ref struct {
	High uint64
	Low  uint64
}

// Nil is the zero reference. It never addresses a persisted entity.
var Nil = Ref{}

// New allocates a fresh reference from a UUIDv7, which carries a millisecond
// timestamp in the high bits and random bits below. Two transactions
// allocating at the same instant can still collide; the commit path handles
// that.
func New() Ref {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does, in which case a
		// random UUID fails the same way and there is nothing to do.
		id = uuid.New()
	}
	return FromBytes(id[:])
}

// FromBytes decodes a reference from the first 16 bytes of b.
func FromBytes(b []byte) Ref {
	return Ref{
		High: binary.BigEndian.Uint64(b[0:8]),
		Low:  binary.BigEndian.Uint64(b[8:16]),
	}
}

// Parse decodes the 32-hex-digit string form produced by String.
func Parse(s string) (Ref, error) {
	if len(s) != 32 {
		return Nil, fmt.Errorf("invalid reference %q: want 32 hex digits", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("invalid reference %q: %w", s, err)
	}
	return FromBytes(b), nil
}

// String returns the 32-hex-digit form: hex(High) followed by hex(Low),
// each zero-padded to 16 digits.
func (r Ref) String() string {
	return fmt.Sprintf("%016x%016x", r.High, r.Low)
}

// Bytes returns the 16-byte big-endian encoding.
func (r Ref) Bytes() []byte {
	b := make([]byte, Size)
	r.Put(b)
	return b
}

// Put writes the 16-byte big-endian encoding into b.
func (r Ref) Put(b []byte) {
	binary.BigEndian.PutUint64(b[0:8], r.High)
	binary.BigEndian.PutUint64(b[8:16], r.Low)
}

// Compare returns -1, 0 or 1 ordering references as unsigned (High, Low).
func (r Ref) Compare(o Ref) int {
	switch {
	case r.High < o.High:
		return -1
	case r.High > o.High:
		return 1
	case r.Low < o.Low:
		return -1
	case r.Low > o.Low:
		return 1
	}
	return 0
}

// IsNil reports whether r is the zero reference.
func (r Ref) IsNil() bool {
	return r == Nil
}
