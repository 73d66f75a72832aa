package odb

import (
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// Reserved storage keys of a database path.
var (
	keyMagic        = substrate.Key{Type: 0, Secondary: 0, Primary: 0}
	keyObjectLog    = substrate.Key{Type: 0, Secondary: 1, Primary: 11}
	keyProperties   = substrate.Key{Type: 0, Secondary: 1, Primary: 12}
	keyDictionary   = substrate.Key{Type: 0, Secondary: 1, Primary: 32}
	keyLookup       = substrate.Key{Type: 0, Secondary: 1, Primary: 33}
	keyAllocCounter = substrate.Key{Type: 0, Secondary: 1, Primary: 34}
	keyClassBucket  = substrate.Key{Type: 0, Secondary: 1, Primary: 36}
	keyClassList    = substrate.Key{Type: 0, Secondary: 1, Primary: 37}
	keyNamerBucket  = substrate.Key{Type: 0, Secondary: 1, Primary: 38}
	keyNamerList    = substrate.Key{Type: 0, Secondary: 1, Primary: 39}
)

// System references. These bypass the reference lookup table and resolve to
// the reserved keys above.
var (
	// ClassClassRef identifies the $Class system class.
	ClassClassRef = ref.Ref{High: 0, Low: 5}

	// NamerClassRef identifies the $Namer system class.
	NamerClassRef = ref.Ref{High: 0, Low: 6}

	// classListRef identifies the system class list (class refs ordered by
	// class name, unique).
	classListRef = ref.Ref{High: 0, Low: 7}

	// namerListRef identifies the named items list ($Namer refs ordered by
	// item name, unique).
	namerListRef = ref.Ref{High: 0, Low: 8}
)

// systemKeyFor resolves the system references that bypass the lookup table.
func systemKeyFor(r ref.Ref) (substrate.Key, bool) {
	switch r {
	case ClassClassRef:
		return keyClassBucket, true
	case NamerClassRef:
		return keyNamerBucket, true
	case classListRef:
		return keyClassList, true
	case namerListRef:
		return keyNamerList, true
	}
	return substrate.Key{}, false
}

// Path magic record values stored at keyMagic.
const (
	magicTypeKey   = "ob_type"
	magicTypeValue = "com.mckoi.odb.ObjectDatabase"
	magicVerKey    = "version"
	magicVerValue  = "1.0"
)

// Base-root property of a flushed proposal, stored at keyProperties.
const (
	propBaseRoot   = "B"
	propNoBaseRoot = "no base root"
)
