package settings

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Option configures a Settings instance.
type Option func(*Settings)

// WithLogger sets the logger used for load and override events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFieldSpecs replaces the settings table (primarily for tests and
// embedding programs with their own settings).
func WithFieldSpecs(specs []FieldSpec) Option {
	return func(s *Settings) {
		s.specs = slices.Clone(specs)
	}
}

// WithEnvBindings replaces the recognised environment variables.
func WithEnvBindings(bindings []EnvBinding) Option {
	return func(s *Settings) {
		s.envBindings = slices.Clone(bindings)
	}
}

// Settings layers defaults, settings files, environment overrides and
// explicit overrides into a resolved Snapshot.
//
// Writers are serialised by a mutex. Readers load the current Snapshot
// atomically and never block; they see either the old or the new Snapshot,
// never a mix. Before the first Update, Set and ApplyPacked only record
// values; afterwards each one re-resolves and swaps the Snapshot, or changes
// nothing when resolution fails.
type Settings struct {
	logger      *zap.Logger
	specs       []FieldSpec
	envBindings []EnvBinding
	known       map[string]struct{}

	mu           sync.Mutex
	raw          *Store
	overrides    *Store
	envProcessed bool
	resolved     bool

	current atomic.Pointer[Snapshot]
}

// New returns a Settings holding only the field defaults. Current is usable
// immediately.
func New(opts ...Option) *Settings {
	s := &Settings{
		logger:      zap.NewNop(),
		specs:       DefaultFieldSpecs(),
		envBindings: slices.Clone(DefaultEnvBindings),
		raw:         NewStore(),
		overrides:   NewStore(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.known = make(map[string]struct{}, len(s.specs))
	for _, spec := range s.specs {
		s.known[spec.Key] = struct{}{}
	}

	snap, err := Resolve(s.raw, s.overrides, s.specs)
	if err != nil {
		// Defaults bypass coercion; only a broken binder can get here.
		panic(fmt.Sprintf("settings: invalid defaults: %v", err))
	}
	s.current.Store(snap)
	return s
}

// LoadDefaults merges site defaults into the raw store.
func (s *Settings) LoadDefaults(defaults map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw.Load(defaults)
}

// MergeFile merges a settings file into the raw store. A file that cannot be
// read is logged and reported with ErrFileNotReadable so the caller can
// decide whether to continue.
func (s *Settings) MergeFile(path string) error {
	pairs, err := ParseFile(path)
	if err != nil {
		s.logger.Warn("settings file rejected", zap.String("path", path), zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.raw.Put(p.Key, p.Value)
	}
	s.logger.Debug("settings file merged", zap.String("path", path), zap.Int("settings", len(pairs)))
	return nil
}

// ProcessEnvironment records the overrides carried by env. It may run once.
func (s *Settings) ProcessEnvironment(env map[string]string) error {
	pairs := ScanEnvironment(env, s.envBindings)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.envProcessed {
		return ErrEnvironmentProcessed
	}
	s.envProcessed = true
	for _, p := range pairs {
		s.logger.Debug("environment override", zap.String("key", p.Key), zap.String("value", p.Value))
	}
	return s.applyLocked(pairs)
}

// Set records an explicit override for key.
func (s *Settings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyLocked([]Pair{{Key: key, Value: value}}); err != nil {
		return err
	}
	if s.resolved {
		s.logger.Info("setting overridden", zap.String("key", key), zap.String("value", value))
	}
	return nil
}

// ApplyPacked decodes a blob produced by Pack and records every pair as an
// override. Keys absent from the blob are left untouched. A malformed blob
// changes nothing.
func (s *Settings) ApplyPacked(blob string) error {
	decoded, err := Unpack(blob)
	if err != nil {
		return err
	}
	pairs := make([]Pair, 0, len(decoded))
	for _, key := range slices.Sorted(maps.Keys(decoded)) {
		pairs = append(pairs, Pair{Key: key, Value: decoded[key]})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(pairs)
}

// applyLocked records pairs in the override store, mirroring them into the
// raw store. Once resolved, the change is committed only if it resolves.
// A pair with an empty key rejects the whole batch.
func (s *Settings) applyLocked(pairs []Pair) error {
	for _, p := range pairs {
		if p.Key == "" {
			return ErrEmptyKey
		}
	}

	raw, overrides := s.raw, s.overrides
	if s.resolved {
		raw, overrides = raw.clone(), overrides.clone()
	}
	for _, p := range pairs {
		if _, ok := s.known[p.Key]; !ok {
			s.logger.Warn("override for unknown setting", zap.String("key", p.Key))
		}
		overrides.Put(p.Key, p.Value)
		raw.Put(p.Key, p.Value)
	}
	if !s.resolved {
		return nil
	}

	if err := s.publishLocked(raw, overrides); err != nil {
		return err
	}
	s.raw, s.overrides = raw, overrides
	return nil
}

// Update resolves every field from the current stores and publishes the
// result. On error the previous Snapshot stays current.
func (s *Settings) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.publishLocked(s.raw, s.overrides); err != nil {
		return err
	}
	s.resolved = true
	return nil
}

func (s *Settings) publishLocked(raw, overrides *Store) error {
	snap, err := Resolve(raw, overrides, s.specs)
	if err != nil {
		return fmt.Errorf("resolve settings: %w", err)
	}
	snap.Generation = s.current.Load().Generation + 1
	s.current.Store(snap)
	s.logger.Debug("settings resolved", zap.Uint64("generation", snap.Generation), zap.Int("overrides", overrides.Len()))
	return nil
}

// Current returns the published Snapshot.
func (s *Settings) Current() *Snapshot {
	return s.current.Load()
}

// Fields returns the typed fields of the published Snapshot.
func (s *Settings) Fields() Fields {
	return s.current.Load().Fields
}

// Get returns the latest raw value for key, whatever its source.
func (s *Settings) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawLocked(key)
}

func (s *Settings) rawLocked(key string) (string, bool) {
	if v, ok := s.overrides.Get(key); ok {
		return v, true
	}
	return s.raw.Get(key)
}

// Lookup reads key from the stores, override first, and coerces it to the
// kind of def. def is returned unchanged when the key is unset.
func (s *Settings) Lookup(key string, def Value) (Value, error) {
	s.mu.Lock()
	raw, ok := s.rawLocked(key)
	s.mu.Unlock()
	if !ok {
		return def, nil
	}
	return Coerce(key, raw, def.Kind)
}

// Text reads key as text.
func (s *Settings) Text(key, def string) (string, error) {
	v, err := s.Lookup(key, TextValue(def))
	return v.Text, err
}

// Bool reads key as a boolean.
func (s *Settings) Bool(key string, def bool) (bool, error) {
	v, err := s.Lookup(key, BoolValue(def))
	return v.Bool, err
}

// Int reads key as a 64-bit integer.
func (s *Settings) Int(key string, def int64) (int64, error) {
	v, err := s.Lookup(key, IntValue(def))
	return v.Int, err
}

// List reads key as a space-separated list.
func (s *Settings) List(key string, def []string) ([]string, error) {
	v, err := s.Lookup(key, ListValue(def...))
	return v.List, err
}

// Overrides returns a copy of the override store.
func (s *Settings) Overrides() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides.Snapshot()
}

// IsOverridden reports whether key was set from the environment or explicitly.
func (s *Settings) IsOverridden(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.overrides.Get(key)
	return ok
}

// Pack encodes the override store for a worker process.
func (s *Settings) Pack() string {
	return Pack(s.Overrides())
}
