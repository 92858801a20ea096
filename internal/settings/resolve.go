package settings

import (
	"slices"

	"go.uber.org/multierr"
)

// Source tells which layer a resolved value came from.
type Source string

const (
	SourceOverride   Source = "override"
	SourceConfigured Source = "configured"
	SourceDefault    Source = "default"
)

// Entry is one resolved setting, for display.
type Entry struct {
	Key    string
	Kind   Kind
	Value  Value
	Source Source
	Usage  string
}

// Snapshot is an immutable result of resolution. It is safe to share
// between goroutines without synchronisation.
type Snapshot struct {
	Fields     Fields
	Generation uint64

	entries []Entry
	index   map[string]int
}

// Value returns the resolved value of key.
func (s *Snapshot) Value(key string) (Value, bool) {
	i, ok := s.index[key]
	if !ok {
		return Value{}, false
	}
	return s.entries[i].Value, true
}

// Entry returns the resolved entry of key.
func (s *Snapshot) Entry(key string) (Entry, bool) {
	i, ok := s.index[key]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Entries returns every resolved setting in field-spec order.
func (s *Snapshot) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Resolve derives a Snapshot from the raw and override stores. For every
// field the override store is consulted first, then the raw store, then the
// field default. It is a pure function of its arguments; every field that
// fails coercion is reported in the returned error.
func Resolve(raw, overrides *Store, specs []FieldSpec) (*Snapshot, error) {
	snap := &Snapshot{
		entries: make([]Entry, 0, len(specs)),
		index:   make(map[string]int, len(specs)),
	}

	var errs error
	for _, spec := range specs {
		value, source, err := resolveOne(raw, overrides, spec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if spec.bind != nil {
			if err := spec.bind(&snap.Fields, value); err != nil {
				errs = multierr.Append(errs, &CoercionError{Key: spec.Key, Raw: value.String(), Expected: spec.Kind.String(), Err: err})
				continue
			}
		}
		snap.index[spec.Key] = len(snap.entries)
		snap.entries = append(snap.entries, Entry{Key: spec.Key, Kind: spec.Kind, Value: value, Source: source, Usage: spec.Usage})
	}
	if errs != nil {
		return nil, errs
	}
	return snap, nil
}

func resolveOne(raw, overrides *Store, spec FieldSpec) (Value, Source, error) {
	if v, ok := overrides.Get(spec.Key); ok {
		value, err := Coerce(spec.Key, v, spec.Kind)
		return value, SourceOverride, err
	}
	if v, ok := raw.Get(spec.Key); ok {
		value, err := Coerce(spec.Key, v, spec.Kind)
		return value, SourceConfigured, err
	}
	return spec.Default, SourceDefault, nil
}
