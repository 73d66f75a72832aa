package odb

import (
	"bytes"
	"testing"

	"github.com/stratumdb/stratum/pkg/substrate"
)

func newTestSet() *orderedSet {
	return newOrderedSet(&substrate.File{}, bytes.Compare)
}

func TestOrderedSetInsertSorted(t *testing.T) {
	s := newTestSet()
	for _, rec := range []string{"mango", "apple", "plum", "banana"} {
		if !s.insert([]byte(rec), false) {
			t.Fatalf("insert %q failed", rec)
		}
	}
	want := []string{"apple", "banana", "mango", "plum"}
	if s.count() != len(want) {
		t.Fatalf("count = %d, want %d", s.count(), len(want))
	}
	for i, w := range want {
		if got := string(s.record(i)); got != w {
			t.Errorf("record(%d) = %q, want %q", i, got, w)
		}
	}
}

func TestOrderedSetDuplicatePolicy(t *testing.T) {
	s := newTestSet()
	if !s.insert([]byte("a"), false) {
		t.Fatal("first insert failed")
	}
	if s.insert([]byte("a"), false) {
		t.Error("duplicate insert succeeded on a unique set")
	}
	if !s.insert([]byte("a"), true) {
		t.Error("duplicate insert failed with duplicates allowed")
	}
	if s.count() != 2 {
		t.Errorf("count = %d, want 2", s.count())
	}
}

func TestOrderedSetGetAndContains(t *testing.T) {
	s := newTestSet()
	s.insert([]byte("one"), false)
	s.insert([]byte("two"), false)

	if rec, ok := s.get([]byte("one")); !ok || string(rec) != "one" {
		t.Errorf("get(one) = %q, %v", rec, ok)
	}
	if _, ok := s.get([]byte("three")); ok {
		t.Error("get(three) found a record")
	}
	if !s.contains([]byte("two")) {
		t.Error("contains(two) = false")
	}
}

func TestOrderedSetReplaceResizes(t *testing.T) {
	// A prefix comparator makes records addressable by their first byte, so
	// replace can change the payload length.
	cmp := func(a, b []byte) int { return bytes.Compare(a[:1], b[:1]) }
	s := newOrderedSet(&substrate.File{}, cmp)
	s.insert([]byte("a-short"), false)
	s.insert([]byte("b-value"), false)
	s.insert([]byte("c-tail"), false)

	if !s.replace([]byte("b-very-much-longer")) {
		t.Fatal("replace failed")
	}
	if got := string(s.record(1)); got != "b-very-much-longer" {
		t.Errorf("record(1) = %q after grow", got)
	}
	if got := string(s.record(2)); got != "c-tail" {
		t.Errorf("record(2) = %q, offsets corrupted by grow", got)
	}

	if !s.replace([]byte("b")) {
		t.Fatal("shrinking replace failed")
	}
	if got := string(s.record(1)); got != "b" {
		t.Errorf("record(1) = %q after shrink", got)
	}
	if got := string(s.record(2)); got != "c-tail" {
		t.Errorf("record(2) = %q, offsets corrupted by shrink", got)
	}

	if s.replace([]byte("x-absent")) {
		t.Error("replace of an absent record succeeded")
	}
}

func TestOrderedSetSearchBounds(t *testing.T) {
	s := newTestSet()
	for _, rec := range []string{"b", "b", "b", "d"} {
		s.insert([]byte(rec), true)
	}
	if got := s.searchFirst([]byte("b")); got != 0 {
		t.Errorf("searchFirst(b) = %d, want 0", got)
	}
	if got := s.searchLast([]byte("b")); got != 3 {
		t.Errorf("searchLast(b) = %d, want 3", got)
	}
	if got := s.searchFirst([]byte("c")); got != 3 {
		t.Errorf("searchFirst(c) = %d, want 3", got)
	}
	if got := s.searchFirst([]byte("e")); got != 4 {
		t.Errorf("searchFirst(e) = %d, want 4", got)
	}
}
