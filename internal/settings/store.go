package settings

import (
	"maps"
	"slices"
)

// Pair is a single key and raw value, as produced by scanners and parsers.
type Pair struct {
	Key   string
	Value string
}

// Store maps setting keys to raw textual values. Writes are last-writer-wins.
// A Store is not safe for concurrent mutation; Settings serialises access.
type Store struct {
	values map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

// Load merges defaults into the store.
func (s *Store) Load(defaults map[string]string) {
	for k, v := range defaults {
		s.values[k] = v
	}
}

// Put records raw under key, replacing any previous value.
func (s *Store) Put(key, raw string) {
	s.values[key] = raw
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// MergeFile merges the settings file at path into the store. See ParseFile
// for the accepted formats. Nothing is merged when the file fails to parse.
func (s *Store) MergeFile(path string) error {
	pairs, err := ParseFile(path)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		s.values[p.Key] = p.Value
	}
	return nil
}

// Keys returns the stored keys in ascending order.
func (s *Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of stored keys.
func (s *Store) Len() int { return len(s.values) }

// Snapshot returns a copy of the store contents.
func (s *Store) Snapshot() map[string]string {
	return maps.Clone(s.values)
}

func (s *Store) clone() *Store {
	return &Store{values: maps.Clone(s.values)}
}
