package storage

import (
	"testing"

	"chordring/internal/logger"
	"chordring/internal/ringid"
)

func TestPutUnionsValues(t *testing.T) {
	s := New(&logger.NopLogger{})
	sp, _ := ringid.NewSpace(8)
	id := sp.Hash("song-1")

	if added := s.Put(id, "song-1", "alice"); !added {
		t.Fatalf("expected first put to add value")
	}
	if added := s.Put(id, "song-1", "bob"); !added {
		t.Fatalf("expected second distinct value to add")
	}
	if added := s.Put(id, "song-1", "alice"); added {
		t.Fatalf("expected duplicate value to not be re-added")
	}

	values, err := s.Get(id, "song-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %v", values)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New(&logger.NopLogger{})
	sp, _ := ringid.NewSpace(8)
	if _, err := s.Get(sp.Hash("missing"), "missing"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestDeleteRemovesOnlyGivenValue(t *testing.T) {
	s := New(&logger.NopLogger{})
	sp, _ := ringid.NewSpace(8)
	id := sp.Hash("song-1")
	s.Put(id, "song-1", "alice")
	s.Put(id, "song-1", "bob")

	if err := s.Delete(id, "song-1", "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	values, err := s.Get(id, "song-1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if len(values) != 1 || values[0] != "bob" {
		t.Fatalf("expected only bob to remain, got %v", values)
	}

	if err := s.Delete(id, "song-1", "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(id, "song-1"); err != ErrKeyNotFound {
		t.Fatalf("expected key to be gone after last value removed, got %v", err)
	}
}

func TestBetweenSelectsArc(t *testing.T) {
	s := New(&logger.NopLogger{})
	sp, _ := ringid.NewSpace(8)

	low := sp.FromUint64(10)
	mid := sp.FromUint64(20)
	high := sp.FromUint64(30)
	s.Put(mid, "inside", "v")
	s.Put(high, "outside", "v")

	entries := s.Between(low, mid)
	if len(entries) != 1 || entries[0].Key != "inside" {
		t.Fatalf("expected only 'inside' in (10,20], got %+v", entries)
	}
}

func TestMergeUnionsAcrossNodes(t *testing.T) {
	s := New(&logger.NopLogger{})
	sp, _ := ringid.NewSpace(8)
	id := sp.Hash("song-1")
	s.Put(id, "song-1", "alice")

	s.Merge([]Entry{{ID: id, Key: "song-1", Values: []string{"alice", "carol"}}})
	values, _ := s.Get(id, "song-1")
	if len(values) != 2 {
		t.Fatalf("expected union of values after merge, got %v", values)
	}
}
