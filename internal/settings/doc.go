// Package settings resolves the build daemon's configuration from built-in
// defaults, site defaults, a settings file, the process environment and
// explicit overrides. Overrides (environment and explicit) always win over
// file and default values; only the override layer is packed for worker
// processes, which apply it over their own local initialization.
//
// Resolution produces an immutable Snapshot of typed Fields that is swapped
// atomically, so any number of goroutines can read settings while a single
// writer applies runtime overrides.
package settings
