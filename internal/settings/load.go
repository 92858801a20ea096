package settings

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"go.uber.org/zap"
)

// DefaultFileName is the settings file looked up in conf-dir when no file is
// named explicitly.
const DefaultFileName = "daemon.conf"

// LoadOptions describes the inputs of the initialization phase.
type LoadOptions struct {
	// Defaults are site defaults seeded into the raw store before any file.
	Defaults map[string]string
	// ConfigFile names the settings file. Empty means <conf-dir>/daemon.conf.
	ConfigFile string
	// Environ is the environment snapshot, see ParseEnviron.
	Environ map[string]string
	// Overrides are explicit settings, applied last.
	Overrides map[string]string
}

// Load runs the whole initialization phase: defaults, settings file,
// environment, explicit overrides, then resolution.
// Precedence: explicit overrides and environment > settings file > site defaults > built-in defaults.
// A settings file that cannot be read is logged and skipped; any other
// failure is returned.
func Load(opts LoadOptions, options ...Option) (*Settings, error) {
	s := New(options...)
	s.LoadDefaults(opts.Defaults)

	// The environment may relocate conf-dir, so it is scanned before the
	// default file location is derived. Overrides still take precedence over
	// file values whatever the order.
	if err := s.ProcessEnvironment(opts.Environ); err != nil {
		return nil, err
	}

	path := opts.ConfigFile
	if path == "" {
		confDir, err := s.lookupConfDir(opts.Overrides)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(confDir, DefaultFileName)
	}
	if err := s.MergeFile(path); err != nil {
		if !errors.Is(err, ErrFileNotReadable) {
			return nil, fmt.Errorf("load settings file: %w", err)
		}
		s.logger.Warn("continuing without settings file", zap.String("path", path))
	}

	for _, key := range slices.Sorted(maps.Keys(opts.Overrides)) {
		if err := s.Set(key, opts.Overrides[key]); err != nil {
			return nil, err
		}
	}

	if err := s.Update(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) lookupConfDir(overrides map[string]string) (string, error) {
	if dir, ok := overrides[KeyConfDir]; ok {
		return dir, nil
	}
	def := "/etc/guix"
	for _, spec := range s.specs {
		if spec.Key == KeyConfDir {
			def = spec.Default.Text
		}
	}
	return s.Text(KeyConfDir, def)
}
