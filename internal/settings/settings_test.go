package settings

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSettings(t *testing.T, opts ...Option) *Settings {
	t.Helper()
	return New(append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func TestNewPublishesDefaults(t *testing.T) {
	s := newTestSettings(t)

	snap := s.Current()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(0), snap.Generation)
	assert.Equal(t, int64(1), s.Fields().MaxBuildJobs)
	assert.Empty(t, s.Overrides())
}

func TestSetMirrorsIntoRawStore(t *testing.T) {
	s := newTestSettings(t)
	s.LoadDefaults(map[string]string{KeyStoreDir: "/site/store"})

	v, ok := s.Get(KeyStoreDir)
	require.True(t, ok)
	assert.Equal(t, "/site/store", v)
	assert.False(t, s.IsOverridden(KeyStoreDir))

	require.NoError(t, s.Set(KeyStoreDir, "/override/store"))
	v, _ = s.Get(KeyStoreDir)
	assert.Equal(t, "/override/store", v)
	assert.True(t, s.IsOverridden(KeyStoreDir))
	assert.Equal(t, map[string]string{KeyStoreDir: "/override/store"}, s.Overrides())

	s.mu.Lock()
	raw, _ := s.raw.Get(KeyStoreDir)
	s.mu.Unlock()
	assert.Equal(t, "/override/store", raw)
}

func TestSetBeforeUpdateIsDeferred(t *testing.T) {
	s := newTestSettings(t)

	require.NoError(t, s.Set(KeyUseChroot, "maybe"))
	assert.False(t, s.Fields().UseChroot)

	err := s.Update()
	require.ErrorIs(t, err, ErrCoercion)
	assert.Equal(t, uint64(0), s.Current().Generation)

	require.NoError(t, s.Set(KeyUseChroot, "yes"))
	require.NoError(t, s.Update())
	assert.True(t, s.Fields().UseChroot)
	assert.Equal(t, uint64(1), s.Current().Generation)
}

func TestSetAfterUpdateReResolves(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Update())
	before := s.Current()

	require.NoError(t, s.Set(KeyMaxBuildJobs, "16"))
	after := s.Current()

	assert.Equal(t, int64(16), after.Fields.MaxBuildJobs)
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.Equal(t, int64(1), before.Fields.MaxBuildJobs, "published snapshots are immutable")
}

func TestSetAfterUpdateRejectsInvalidValue(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Set(KeyMaxBuildJobs, "2"))
	require.NoError(t, s.Update())
	before := s.Current()

	err := s.Set(KeyMaxBuildJobs, "lots")
	require.ErrorIs(t, err, ErrCoercion)

	assert.Same(t, before, s.Current())
	assert.Equal(t, map[string]string{KeyMaxBuildJobs: "2"}, s.Overrides())
	v, _ := s.Get(KeyMaxBuildJobs)
	assert.Equal(t, "2", v)
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Set(KeySubstituteURLs, "https://a.example"))
	require.NoError(t, s.Update())
	first := s.Current()
	require.NoError(t, s.Update())
	second := s.Current()

	if diff := cmp.Diff(first.Fields, second.Fields); diff != "" {
		t.Fatalf("fields differ (-first +second):\n%s", diff)
	}
}

func TestProcessEnvironmentOnce(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.ProcessEnvironment(map[string]string{"NIX_STATE_DIR": "/srv/state", "EDITOR": "vi"}))
	assert.Equal(t, map[string]string{KeyStateDir: "/srv/state"}, s.Overrides())

	err := s.ProcessEnvironment(map[string]string{"NIX_LOG_DIR": "/srv/log"})
	require.ErrorIs(t, err, ErrEnvironmentProcessed)
	assert.False(t, s.IsOverridden(KeyLogDir))
}

func TestProcessEnvironmentCustomBindings(t *testing.T) {
	s := newTestSettings(t, WithEnvBindings([]EnvBinding{{Name: "BUILDD_JOBS", Key: KeyMaxBuildJobs}}))
	require.NoError(t, s.ProcessEnvironment(map[string]string{"BUILDD_JOBS": "6", "NIX_STORE_DIR": "/x"}))
	require.NoError(t, s.Update())

	assert.Equal(t, int64(6), s.Fields().MaxBuildJobs)
	assert.Equal(t, "/gnu/store", s.Fields().StoreDir)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "daemon.conf", "store-dir = /file/store\nlog-dir = /file/log\n")

	s := newTestSettings(t)
	require.NoError(t, s.MergeFile(path))
	require.NoError(t, s.ProcessEnvironment(map[string]string{"NIX_STORE_DIR": "/env/store"}))
	require.NoError(t, s.Update())

	assert.Equal(t, "/env/store", s.Fields().StoreDir)
	assert.Equal(t, "/file/log", s.Fields().LogDir)
	assert.Equal(t, map[string]string{KeyStoreDir: "/env/store"}, s.Overrides())
}

func TestTypedAccessors(t *testing.T) {
	s := newTestSettings(t)
	s.LoadDefaults(map[string]string{
		"flag":  "YES",
		"count": "-7",
		"items": "a b  c",
		"path":  "/with space",
		"bad":   "3.5",
	})

	b, err := s.Bool("flag", false)
	require.NoError(t, err)
	assert.True(t, b)

	i, err := s.Int("count", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i)

	l, err := s.List("items", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, l)

	txt, err := s.Text("path", "")
	require.NoError(t, err)
	assert.Equal(t, "/with space", txt)

	_, err = s.Int("bad", 1)
	require.ErrorIs(t, err, ErrCoercion)

	def, err := s.Int("absent", 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), def)

	require.NoError(t, s.Set("count", "12"))
	i, err = s.Int("count", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), i)
}

func TestPackAndApplyPacked(t *testing.T) {
	sender := newTestSettings(t)
	require.NoError(t, sender.ProcessEnvironment(map[string]string{"NIX_STORE_DIR": "/srv/my store"}))
	require.NoError(t, sender.Set(KeyUseChroot, "true"))
	require.NoError(t, sender.Set(KeyChrootDirs, ""))
	require.NoError(t, sender.Update())

	receiver := newTestSettings(t)
	receiver.LoadDefaults(map[string]string{KeyLogDir: "/receiver/log", KeyStoreDir: "/receiver/store"})
	require.NoError(t, receiver.Set(KeyMaxBuildJobs, "3"))
	require.NoError(t, receiver.ApplyPacked(sender.Pack()))
	require.NoError(t, receiver.Update())

	f := receiver.Fields()
	assert.Equal(t, "/srv/my store", f.StoreDir)
	assert.True(t, f.UseChroot)
	assert.Empty(t, f.ChrootDirs)
	assert.Equal(t, "/receiver/log", f.LogDir, "non-overridden keys keep receiver values")
	assert.Equal(t, int64(3), f.MaxBuildJobs, "receiver overrides absent from the blob survive")
	assert.Equal(t, map[string]string{
		KeyStoreDir:     "/srv/my store",
		KeyUseChroot:    "true",
		KeyChrootDirs:   "",
		KeyMaxBuildJobs: "3",
	}, receiver.Overrides())
}

func TestEmptyKeyIsRejected(t *testing.T) {
	s := newTestSettings(t)
	require.ErrorIs(t, s.Set("", "x"), ErrEmptyKey)
	assert.Empty(t, s.Overrides())
	_, ok := s.Get("")
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyKeepGoing, "yes"))
	require.NoError(t, s.Update())
	before := s.Current()
	require.ErrorIs(t, s.Set("", "x"), ErrEmptyKey)
	assert.Same(t, before, s.Current())

	receiver := newTestSettings(t)
	require.NoError(t, receiver.ApplyPacked(s.Pack()))
	assert.Equal(t, s.Overrides(), receiver.Overrides())
}

func TestEmptyEnvBindingKeyIsRejected(t *testing.T) {
	s := New(WithLogger(zaptest.NewLogger(t)), WithEnvBindings([]EnvBinding{{Name: "STRAY", Key: ""}}))
	require.ErrorIs(t, s.ProcessEnvironment(map[string]string{"STRAY": "v"}), ErrEmptyKey)
	assert.Empty(t, s.Pack())
}

func TestApplyPackedMalformedChangesNothing(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Update())
	before := s.Current()

	err := s.ApplyPacked("build-max-jobs=4\nbuild-cores=2")
	require.ErrorIs(t, err, ErrSerializationFormat)
	assert.Empty(t, s.Overrides())
	assert.Same(t, before, s.Current())
}

func TestApplyPackedAfterUpdateIsAtomic(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Update())
	before := s.Current()

	err := s.ApplyPacked(Pack(map[string]string{KeyMaxBuildJobs: "4", KeyUseChroot: "sometimes"}))
	require.ErrorIs(t, err, ErrCoercion)
	assert.Same(t, before, s.Current())
	assert.False(t, s.IsOverridden(KeyMaxBuildJobs))
}

func TestUnknownKeysArePropagated(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Set("future-setting", "on"))
	require.NoError(t, s.Update())

	receiver := newTestSettings(t)
	require.NoError(t, receiver.ApplyPacked(s.Pack()))
	v, ok := receiver.Get("future-setting")
	require.True(t, ok)
	assert.Equal(t, "on", v)
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.Set(KeyMaxBuildJobs, "0"))
	require.NoError(t, s.Set(KeyBuildCores, "0"))
	require.NoError(t, s.Update())

	const writes = 200
	var wg sync.WaitGroup
	done := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				f := s.Fields()
				if f.MaxBuildJobs != f.BuildCores {
					t.Errorf("torn snapshot: jobs=%d cores=%d", f.MaxBuildJobs, f.BuildCores)
					return
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		n := strconv.Itoa(i)
		blob := Pack(map[string]string{KeyMaxBuildJobs: n, KeyBuildCores: n})
		if !assert.NoError(t, s.ApplyPacked(blob), fmt.Sprintf("write %d", i)) {
			break
		}
	}
	close(done)
	wg.Wait()

	assert.Equal(t, int64(writes), s.Fields().MaxBuildJobs)
	assert.Equal(t, uint64(writes+1), s.Current().Generation)
}
