// Package kvstore implements VersionedKVStore, the leaf data structure both
// transactional backends commit into: a key maps to a time-ordered list of
// (timestamp, value) pairs so that OCCStore can validate reads against the
// exact version they were taken from, and so LockStore's single in-flight
// writer per key can still be undone by popping the version it pushed.
//
// There is no internal locking here. The RSM executor (internal/rsm) is
// single-threaded with respect to the engine (see DESIGN.md, spec.md §5);
// VersionedKVStore is reentered only from that thread.
package kvstore

import "errors"

// ErrNotFound is returned by Get and Remove when the key (or, for the
// as-of form of Get, no qualifying version of the key) is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// entry is one (timestamp, value) pair in a key's version list.
type entry struct {
	ts    uint64
	value []byte
}

// Store maps each key to its version list, newest first. A key is absent
// from the map entirely once its version list empties (Remove pops the
// last entry and deletes the map slot), so callers can use plain
// key-presence to mean "never written", per spec.md §4.1.
type Store struct {
	versions map[string][]entry
}

// New returns an empty VersionedKVStore.
func New() *Store {
	return &Store{versions: make(map[string][]entry)}
}

// Get returns the most recent (timestamp, value) pair for key — the head
// of its version list.
func (s *Store) Get(key string) (ts uint64, value []byte, err error) {
	list := s.versions[key]
	if len(list) == 0 {
		return 0, nil, ErrNotFound
	}
	head := list[0]
	return head.ts, head.value, nil
}

// GetAt returns the value visible as of timestamp asOf: the first entry
// in the list (descending by timestamp) whose timestamp is <= asOf, or
// ErrNotFound if every version of key postdates asOf or the key is
// absent entirely.
func (s *Store) GetAt(key string, asOf uint64) ([]byte, error) {
	for _, e := range s.versions[key] {
		if e.ts <= asOf {
			return e.value, nil
		}
	}
	return nil, ErrNotFound
}

// Put inserts (ts, value) for key. ts must be strictly greater than the
// key's current head timestamp (the caller — the storage engine —
// guarantees fresh, externally-sourced timestamps; Put does not attempt
// an in-place replace of an equal timestamp, per spec.md §4.1).
func (s *Store) Put(key string, value []byte, ts uint64) {
	list := s.versions[key]
	cp := make([]byte, len(value))
	copy(cp, value)
	s.versions[key] = append([]entry{{ts: ts, value: cp}}, list...)
}

// Len reports the number of keys that currently carry at least one
// version, for tests that need to confirm a store has returned to empty.
func (s *Store) Len() int {
	return len(s.versions)
}

// Remove pops the head (most recent) version of key and returns it. If
// removing the last remaining version, the key is deleted from the map
// entirely so its absence can be observed by callers.
func (s *Store) Remove(key string) (ts uint64, value []byte, err error) {
	list := s.versions[key]
	if len(list) == 0 {
		return 0, nil, ErrNotFound
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.versions, key)
	} else {
		s.versions[key] = list[1:]
	}
	return head.ts, head.value, nil
}
