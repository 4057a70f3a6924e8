// Package storage implements the local multiset key-value store held by
// each ring node: every key maps to a set of values (e.g. the set of
// uploaders of a song), not a single scalar, so concurrent PUTs for the
// same key union rather than overwrite.
package storage

import (
	"encoding/hex"
	"errors"
	"sort"
	"sync"

	"chordring/internal/logger"
	"chordring/internal/ringid"
)

// ErrKeyNotFound reports that no entry exists for a given key.
var ErrKeyNotFound = errors.New("key not found")

// Entry is a single key's stored values, addressed by its ring identifier.
type Entry struct {
	ID     ringid.ID
	Key    string
	Values []string
}

// Store is an in-memory, concurrency-safe multiset store. It is indexed
// first by the key's ring identifier (hex-encoded) so that range queries
// over an arc of the ring (used by TRANSFER_KEYS) are a simple scan.
type Store struct {
	lgr  logger.Logger
	mu   sync.RWMutex
	data map[string]map[string]map[string]struct{} // idHex -> key -> value set
}

// New creates an empty store.
func New(lgr logger.Logger) *Store {
	return &Store{
		lgr:  lgr,
		data: make(map[string]map[string]map[string]struct{}),
	}
}

// Put unions value into the set stored for (id, key). Returns true if the
// value was newly added.
func (s *Store) Put(id ringid.ID, key, value string) bool {
	idHex := id.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.data[idHex]
	if !ok {
		keys = make(map[string]map[string]struct{})
		s.data[idHex] = keys
	}
	values, ok := keys[key]
	if !ok {
		values = make(map[string]struct{})
		keys[key] = values
	}
	_, existed := values[value]
	values[value] = struct{}{}
	if existed {
		s.lgr.Debug("storage: value already present", logger.F("key", key), logger.F("value", value))
	} else {
		s.lgr.Debug("storage: value added", logger.F("key", key), logger.F("value", value))
	}
	return !existed
}

// Get returns the sorted set of values stored under key at id.
func (s *Store) Get(id ringid.ID, key string) ([]string, error) {
	idHex := id.String()
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, ok := s.data[idHex]
	if !ok {
		return nil, ErrKeyNotFound
	}
	values, ok := keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return sortedKeys(values), nil
}

// Delete removes a single value from the set stored under key at id. If
// the set becomes empty the key entry is removed entirely. Returns
// ErrKeyNotFound if the key or value was not present.
func (s *Store) Delete(id ringid.ID, key, value string) error {
	idHex := id.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.data[idHex]
	if !ok {
		return ErrKeyNotFound
	}
	values, ok := keys[key]
	if !ok {
		return ErrKeyNotFound
	}
	if _, ok := values[value]; !ok {
		return ErrKeyNotFound
	}
	delete(values, value)
	if len(values) == 0 {
		delete(keys, key)
	}
	if len(keys) == 0 {
		delete(s.data, idHex)
	}
	s.lgr.Debug("storage: value removed", logger.F("key", key), logger.F("value", value))
	return nil
}

// Between returns every entry whose identifier lies in the circular
// interval (from, to], used to select the keys a departing or newly
// joined node must hand off.
func (s *Store) Between(from, to ringid.ID) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for idHex, keys := range s.data {
		id, err := decodeID(idHex)
		if err != nil {
			continue
		}
		if !id.Between(from, to) {
			continue
		}
		out = append(out, entriesForKeys(id, keys)...)
	}
	return out
}

// All returns a snapshot of every entry currently stored locally.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for idHex, keys := range s.data {
		id, err := decodeID(idHex)
		if err != nil {
			continue
		}
		out = append(out, entriesForKeys(id, keys)...)
	}
	return out
}

// Merge unions a batch of entries into the store (used when accepting a
// TRANSFER_KEYS or MOVE_ALL_KEYS handoff).
func (s *Store) Merge(entries []Entry) {
	for _, e := range entries {
		for _, v := range e.Values {
			s.Put(e.ID, e.Key, v)
		}
	}
}

// RemoveRange deletes every entry whose identifier lies in (from, to],
// used by the sending side of a TRANSFER_KEYS handoff. The range is
// removed before the reply is sent; the receiver does not acknowledge it.
func (s *Store) RemoveRange(from, to ringid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idHex := range s.data {
		id, err := decodeID(idHex)
		if err != nil {
			continue
		}
		if id.Between(from, to) {
			delete(s.data, idHex)
		}
	}
}

// Clear empties the store, used once every entry has been handed off via
// MOVE_ALL_KEYS during a graceful departure.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]map[string]struct{})
}

func entriesForKeys(id ringid.ID, keys map[string]map[string]struct{}) []Entry {
	out := make([]Entry, 0, len(keys))
	for key, values := range keys {
		out = append(out, Entry{ID: id, Key: key, Values: sortedKeys(values)})
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// decodeID reconstructs an ID from the hex string it is indexed under.
// The store holds only IDs that were already valid for the node's space
// when inserted, so no further bit-width validation is needed here.
func decodeID(idHex string) (ringid.ID, error) {
	b, err := hex.DecodeString(idHex)
	if err != nil {
		return nil, err
	}
	return ringid.ID(b), nil
}
