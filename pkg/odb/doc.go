/*
Package odb implements Stratum's transactional object database and its
commit-time merge engine.

The data model is a graph of typed objects. A class declares an ordered
field schema; instances hold null, string or reference values per field and
live in their class's bucket, an ordered set of serialized records keyed by
a 128-bit reference. Objects link to each other directly, through ordered
reference lists (sorted by reference value or by a string field of the
referenced objects), and through external data blobs. Named items give the
graph string-addressed roots.

# Transactions

A transaction reads one immutable snapshot plus its own buffered writes.
Every logical mutation is journaled in the transaction's object log: key
allocations, object and data changes, list adds and removes, list and
dictionary changes. The log is an ordered binary journal; it is what the
merge engine consumes, so a transaction's effects are replayable without
re-executing client code.

	┌──────────────── TRANSACTION ────────────────┐
	│ client API: classes, objects, lists, data,  │
	│             named items, commit             │
	│        │                                    │
	│        ▼                                    │
	│ buckets / lists / dictionary / lookup       │
	│        │                                    │
	│        ▼                                    │
	│ object log (sorted event journal)           │
	└──────────────┬──────────────────────────────┘
	               ▼  commit: flush as proposal
	┌──────────────────── MERGE ──────────────────┐
	│ no base root or no roots since base?        │
	│   publish unconditionally                   │
	│ otherwise replay into latest root:          │
	│   dictionary adds   (idempotent fold)       │
	│   key allocations   (remap on clash)        │
	│   object/data       (fault on clash)        │
	│   list operations   (copy or rebuild)       │
	└─────────────────────────────────────────────┘

# Commit and merge

Commit flushes the transaction as a proposal snapshot and hands it to the
path's commit procedure, which is serialized per path. A proposal with no
base root, or one whose base is still current, publishes as-is. Otherwise
the merge engine opens the latest root and replays the proposal's log into
it. Independent concurrent work is preserved rather than re-executed:
resources whose keys clashed are rehomed under fresh keys, lists touched
on both sides are rebuilt add-by-add, and genuinely conflicting changes
(the same object or blob modified twice, a doubly removed list entry, a
duplicate unique-list add) surface as a CommitFaultError. The faulted
transaction is invalid; the caller retries on a fresh base, most simply
through Database.RunTransaction.

# Concurrency

A transaction and the handles derived from it are single-goroutine state.
Different transactions, including transactions on different paths of one
store, proceed concurrently; only the per-path commit critical section
serializes.
*/
package odb
