package substrate

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnknownPath is returned for operations on a path that was never created.
	ErrUnknownPath = errors.New("unknown path")

	// ErrPathExists is returned when creating a path that already exists.
	ErrPathExists = errors.New("path already exists")

	// ErrUnknownSnapshot is returned when a snapshot address cannot be resolved.
	ErrUnknownSnapshot = errors.New("unknown snapshot")

	// ErrClosed is returned for operations on a closed store or transaction.
	ErrClosed = errors.New("store is closed")
)

// KeySize is the encoded size of a Key.
const KeySize = 16

// Key addresses one byte-file inside a snapshot.
type Key struct {
	Type      int16
	Secondary int32
	Primary   int64
}

// Compare returns -1, 0 or 1 ordering keys by (Type, Secondary, Primary).
func (k Key) Compare(o Key) int {
	switch {
	case k.Type != o.Type:
		if k.Type < o.Type {
			return -1
		}
		return 1
	case k.Secondary != o.Secondary:
		if k.Secondary < o.Secondary {
			return -1
		}
		return 1
	case k.Primary != o.Primary:
		if k.Primary < o.Primary {
			return -1
		}
		return 1
	}
	return 0
}

// Encode writes the 16-byte form: type, secondary, primary big-endian,
// then two bytes of padding.
func (k Key) Encode() []byte {
	b := make([]byte, KeySize)
	k.Put(b)
	return b
}

// Put writes the 16-byte encoding into b.
func (k Key) Put(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], uint16(k.Type))
	binary.BigEndian.PutUint32(b[2:6], uint32(k.Secondary))
	binary.BigEndian.PutUint64(b[6:14], uint64(k.Primary))
	b[14] = 0
	b[15] = 0
}

// DecodeKey reads a key from the first 16 bytes of b.
func DecodeKey(b []byte) Key {
	return Key{
		Type:      int16(binary.BigEndian.Uint16(b[0:2])),
		Secondary: int32(binary.BigEndian.Uint32(b[2:6])),
		Primary:   int64(binary.BigEndian.Uint64(b[6:14])),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.Type, k.Secondary, k.Primary)
}

// Address identifies one snapshot. Addresses are opaque; the store assigns
// them when a transaction is flushed.
type Address [16]byte

// NilAddress is the zero address. It never identifies a snapshot.
var NilAddress Address

// NewAddress allocates a fresh snapshot address.
func NewAddress() Address {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Address(id)
}

// ParseAddress decodes the 32-hex-digit form produced by String.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 32 {
		return a, fmt.Errorf("invalid snapshot address %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid snapshot address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsNil reports whether a is the zero address.
func (a Address) IsNil() bool {
	return a == NilAddress
}

// CommitProcessor reconciles a flushed proposal with the current state of a
// path. PerformCommit routes every proposal for a path through its processor
// inside the path's commit critical section; the processor decides whether
// the proposal publishes as-is, merges into the latest root, or faults.
type CommitProcessor interface {
	Commit(c Connection, proposal Address) (Address, error)
}

// Connection is the store surface handed to a CommitProcessor. It is only
// valid inside the Commit call that received it.
type Connection interface {
	// PathName returns the path being committed to.
	PathName() string

	// CurrentSnapshot returns the latest published root of the path.
	CurrentSnapshot() (Address, error)

	// SnapshotsSince returns the published roots strictly after base, in
	// commit order. It fails with ErrUnknownSnapshot if base was never
	// published to this path.
	SnapshotsSince(base Address) ([]Address, error)

	// CreateTransaction opens a working transaction on the given snapshot.
	CreateTransaction(base Address) (*Transaction, error)

	// Publish flushes t and publishes the resulting snapshot as the new
	// current root of the path.
	Publish(t *Transaction) (Address, error)

	// PublishAddress publishes an already flushed snapshot unchanged.
	PublishAddress(addr Address) (Address, error)
}
