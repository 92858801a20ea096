package settings

import (
	"context"
	"sync"
)

var (
	globalMu sync.Mutex
	global   *Settings
)

// Global returns the process-wide Settings, creating a defaults-only instance
// on first use. Programs normally install their loaded instance with
// SetGlobal during startup.
func Global() *Settings {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}

// SetGlobal installs s as the process-wide Settings.
func SetGlobal(s *Settings) {
	globalMu.Lock()
	global = s
	globalMu.Unlock()
}

// ResetGlobal drops the process-wide Settings so the next Global call starts
// from defaults again.
func ResetGlobal() {
	SetGlobal(nil)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the Settings carried by ctx, or Global when there is none.
func FromContext(ctx context.Context) *Settings {
	if s, ok := ctx.Value(contextKey{}).(*Settings); ok && s != nil {
		return s
	}
	return Global()
}
