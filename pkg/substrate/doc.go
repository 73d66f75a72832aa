/*
Package substrate provides the copy-on-write keyed byte-file store that the
object database runs on.

A snapshot is an immutable set of keyed byte-files, stored as a delta over a
parent snapshot. Reading a key walks the parent chain until a snapshot says
something about it (a payload or a tombstone). Transactions materialize files
into memory on first access and buffer every mutation privately; Flush turns
the buffered state into a new snapshot and returns its address.

# Architecture

	┌─────────────────── SUBSTRATE ───────────────────┐
	│                                                   │
	│  Transaction (per caller, not goroutine-safe)     │
	│    files: Key -> *File (copy-on-write buffers)    │
	│    Flush -> new snapshot address                  │
	│                                                   │
	│  Store                                            │
	│    snapshot chain reads (parent links)            │
	│    path root history + current root               │
	│    per-path commit lock registry                  │
	│    PerformCommit -> CommitProcessor               │
	│                                                   │
	│  Backend (pluggable)                              │
	│    memoryBackend: maps, ephemeral                 │
	│    boltBackend:   BoltDB buckets, durable         │
	└───────────────────────────────────────────────────┘

# Paths and commits

A path is a named line of published roots. Publishing appends an address to
the path history and makes it current. PerformCommit is the only write
entry point that contends: it takes the path's lock from the lock registry
(one lock per path, so commits on different paths proceed concurrently) and
hands the proposal to the path's CommitProcessor, which merges, publishes,
or faults. The object database installs its consensus engine as the
processor; a path without a processor publishes proposals unconditionally.

# Backends

Two backends exist. The memory backend keeps everything in process maps and
is what tests use. The Bolt backend persists the same model in a BoltDB
file with three buckets (snapshots, files, paths); writes go through BoltDB
transactions and are fsynced on commit.
*/
package substrate
