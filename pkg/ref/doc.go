/*
Package ref defines the 128-bit reference that identifies every persisted
entity in Stratum: objects, classes, lists and data blobs.

References are allocated from UUIDv7 values, so they carry a millisecond
timestamp in the high bits and randomness below. Uniqueness is
probabilistic by design and allocation never coordinates between
transactions. References are never remapped at commit; two proposals that
change an object at the same reference fault.
*/
package ref
