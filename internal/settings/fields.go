package settings

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"
)

// Setting keys understood by the daemon.
const (
	KeyStoreDir               = "store-dir"
	KeyLogDir                 = "log-dir"
	KeyStateDir               = "state-dir"
	KeyDBDir                  = "db-dir"
	KeyConfDir                = "conf-dir"
	KeyBinDir                 = "bin-dir"
	KeyDaemonSocket           = "daemon-socket"
	KeyGuixProgram            = "guix-program"
	KeyKeepFailed             = "keep-failed"
	KeyKeepGoing              = "keep-going"
	KeyTryFallback            = "build-fallback"
	KeyBuildVerbosity         = "build-verbosity"
	KeyMaxBuildJobs           = "build-max-jobs"
	KeyBuildCores             = "build-cores"
	KeyReadOnly               = "read-only"
	KeySystem                 = "system"
	KeyMaxSilentTime          = "build-max-silent-time"
	KeyBuildTimeout           = "build-timeout"
	KeyUseBuildHook           = "use-build-hook"
	KeyPrintBuildTrace        = "print-build-trace"
	KeyMultiplexedBuildOutput = "multiplexed-build-output"
	KeyReservedSize           = "gc-reserved-space"
	KeyFsyncMetadata          = "fsync-metadata"
	KeyUseSQLiteWAL           = "use-sqlite-wal"
	KeySyncBeforeRegistering  = "sync-before-registering"
	KeyUseSubstitutes         = "build-use-substitutes"
	KeySubstituteURLs         = "substitute-urls"
	KeyBuildUsersGroup        = "build-users-group"
	KeyUseChroot              = "build-use-chroot"
	KeyChrootDirs             = "build-chroot-dirs"
	KeyImpersonateLinux26     = "build-impersonate-linux-26"
	KeyKeepLog                = "build-keep-log"
	KeyLogCompression         = "log-compression"
	KeyMaxLogSize             = "build-max-log-size"
	KeyCacheFailure           = "build-cache-failure"
	KeyPollInterval           = "build-poll-interval"
	KeyCheckRootReachability  = "gc-check-reachability"
	KeyGCKeepOutputs          = "gc-keep-outputs"
	KeyGCKeepDerivations      = "gc-keep-derivations"
	KeyAutoOptimiseStore      = "auto-optimise-store"
	KeyEnvKeepDerivations     = "env-keep-derivations"
	KeyLockCPU                = "lock-cpu"
	KeyShowTrace              = "show-trace"
	KeyUseHostLoopback        = "use-host-loopback"
	KeySlirp4netns            = "slirp4netns"
)

// Compression selects how build logs are compressed.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression maps a compression name to its Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "bzip2":
		return CompressionBzip2, nil
	default:
		return CompressionNone, errors.New("expected one of none, gzip, bzip2")
	}
}

// Fields is the resolved, typed view of the daemon settings. It is a value
// type; a Snapshot's Fields never change once published.
type Fields struct {
	StoreDir     string
	LogDir       string
	StateDir     string
	DBDir        string
	ConfDir      string
	BinDir       string
	DaemonSocket string
	GuixProgram  string

	KeepFailed     bool
	KeepGoing      bool
	TryFallback    bool
	BuildVerbosity int64
	// MaxBuildJobs of zero means unlimited.
	MaxBuildJobs int64
	// BuildCores of zero means detect the host's core count.
	BuildCores   int64
	ReadOnlyMode bool
	ThisSystem   string
	// MaxSilentTime and BuildTimeout of zero mean no limit.
	MaxSilentTime time.Duration
	BuildTimeout  time.Duration

	UseBuildHook           bool
	PrintBuildTrace        bool
	MultiplexedBuildOutput bool

	ReservedSize          int64
	FsyncMetadata         bool
	UseSQLiteWAL          bool
	SyncBeforeRegistering bool

	UseSubstitutes bool
	SubstituteURLs []string

	BuildUsersGroup    string
	UseChroot          bool
	ChrootDirs         []string
	ImpersonateLinux26 bool

	KeepLog        bool
	LogCompression Compression
	// MaxLogSize of zero means no limit.
	MaxLogSize   int64
	CacheFailure bool
	PollInterval time.Duration

	CheckRootReachability bool
	GCKeepOutputs         bool
	GCKeepDerivations     bool
	AutoOptimiseStore     bool
	EnvKeepDerivations    bool

	LockCPU         bool
	ShowTrace       bool
	UseHostLoopback bool
	Slirp4netns     string
}

// FieldSpec describes one setting: its key, kind and typed default. The
// optional binder stores the coerced value into Fields and may reject values
// the kind alone admits.
type FieldSpec struct {
	Key     string
	Kind    Kind
	Default Value
	Usage   string

	bind func(*Fields, Value) error
}

var errNegative = errors.New("must not be negative")

func textField(key, def, usage string, dst func(*Fields) *string) FieldSpec {
	return FieldSpec{Key: key, Kind: KindText, Default: TextValue(def), Usage: usage,
		bind: func(f *Fields, v Value) error {
			*dst(f) = v.Text
			return nil
		}}
}

func boolField(key string, def bool, usage string, dst func(*Fields) *bool) FieldSpec {
	return FieldSpec{Key: key, Kind: KindBool, Default: BoolValue(def), Usage: usage,
		bind: func(f *Fields, v Value) error {
			*dst(f) = v.Bool
			return nil
		}}
}

func countField(key string, def int64, usage string, dst func(*Fields) *int64) FieldSpec {
	return FieldSpec{Key: key, Kind: KindInt, Default: IntValue(def), Usage: usage,
		bind: func(f *Fields, v Value) error {
			if v.Int < 0 {
				return errNegative
			}
			*dst(f) = v.Int
			return nil
		}}
}

func secondsField(key string, def int64, usage string, dst func(*Fields) *time.Duration) FieldSpec {
	return FieldSpec{Key: key, Kind: KindInt, Default: IntValue(def), Usage: usage,
		bind: func(f *Fields, v Value) error {
			if v.Int < 0 {
				return errNegative
			}
			if v.Int > int64(time.Duration(1<<63-1)/time.Second) {
				return errors.New("duration out of range")
			}
			*dst(f) = time.Duration(v.Int) * time.Second
			return nil
		}}
}

func listField(key, usage string, dst func(*Fields) *[]string) FieldSpec {
	return FieldSpec{Key: key, Kind: KindList, Default: ListValue(), Usage: usage,
		bind: func(f *Fields, v Value) error {
			*dst(f) = slices.Clone(v.List)
			return nil
		}}
}

// DefaultFieldSpecs returns the daemon's settings table.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		textField(KeyStoreDir, "/gnu/store", "directory holding store items", func(f *Fields) *string { return &f.StoreDir }),
		textField(KeyLogDir, "/var/log/guix", "directory for build logs", func(f *Fields) *string { return &f.LogDir }),
		textField(KeyStateDir, "/var/guix", "directory for daemon state", func(f *Fields) *string { return &f.StateDir }),
		textField(KeyDBDir, "/var/guix/db", "directory of the store database", func(f *Fields) *string { return &f.DBDir }),
		textField(KeyConfDir, "/etc/guix", "directory of configuration files", func(f *Fields) *string { return &f.ConfDir }),
		textField(KeyBinDir, "/usr/bin", "directory of the main programs", func(f *Fields) *string { return &f.BinDir }),
		textField(KeyDaemonSocket, "/var/guix/daemon-socket/socket", "socket the daemon listens on", func(f *Fields) *string { return &f.DaemonSocket }),
		textField(KeyGuixProgram, "/usr/bin/guix", "absolute file name of the guix program", func(f *Fields) *string { return &f.GuixProgram }),

		boolField(KeyKeepFailed, false, "keep build directories of failed builds", func(f *Fields) *bool { return &f.KeepFailed }),
		boolField(KeyKeepGoing, false, "keep building other goals after a failure", func(f *Fields) *bool { return &f.KeepGoing }),
		boolField(KeyTryFallback, false, "build from source when substitution fails", func(f *Fields) *bool { return &f.TryFallback }),
		countField(KeyBuildVerbosity, 0, "verbosity of build output", func(f *Fields) *int64 { return &f.BuildVerbosity }),
		countField(KeyMaxBuildJobs, 1, "maximum parallel build jobs, 0 for unlimited", func(f *Fields) *int64 { return &f.MaxBuildJobs }),
		countField(KeyBuildCores, 0, "cores used within one build, 0 to detect", func(f *Fields) *int64 { return &f.BuildCores }),
		boolField(KeyReadOnly, false, "never write to the store or its database", func(f *Fields) *bool { return &f.ReadOnlyMode }),
		textField(KeySystem, defaultSystem(), "canonical system type", func(f *Fields) *string { return &f.ThisSystem }),
		secondsField(KeyMaxSilentTime, 0, "seconds a builder may stay silent, 0 for no limit", func(f *Fields) *time.Duration { return &f.MaxSilentTime }),
		secondsField(KeyBuildTimeout, 0, "seconds a builder may run, 0 for no limit", func(f *Fields) *time.Duration { return &f.BuildTimeout }),

		boolField(KeyUseBuildHook, true, "offload builds through the build hook", func(f *Fields) *bool { return &f.UseBuildHook }),
		boolField(KeyPrintBuildTrace, false, "print machine-readable build traces", func(f *Fields) *bool { return &f.PrintBuildTrace }),
		boolField(KeyMultiplexedBuildOutput, false, "prefix builder output with its builder", func(f *Fields) *bool { return &f.MultiplexedBuildOutput }),

		countField(KeyReservedSize, 8*1024*1024, "bytes reserved for the garbage collector", func(f *Fields) *int64 { return &f.ReservedSize }),
		boolField(KeyFsyncMetadata, true, "fsync the store database", func(f *Fields) *bool { return &f.FsyncMetadata }),
		boolField(KeyUseSQLiteWAL, true, "use write-ahead logging in the store database", func(f *Fields) *bool { return &f.UseSQLiteWAL }),
		boolField(KeySyncBeforeRegistering, false, "sync before registering a path as valid", func(f *Fields) *bool { return &f.SyncBeforeRegistering }),

		boolField(KeyUseSubstitutes, true, "use substitutes", func(f *Fields) *bool { return &f.UseSubstitutes }),
		listField(KeySubstituteURLs, "substitute server URLs", func(f *Fields) *[]string { return &f.SubstituteURLs }),

		textField(KeyBuildUsersGroup, "", "group holding the build users", func(f *Fields) *string { return &f.BuildUsersGroup }),
		boolField(KeyUseChroot, false, "build in a chroot", func(f *Fields) *bool { return &f.UseChroot }),
		listField(KeyChrootDirs, "extra directories visible in the chroot", func(f *Fields) *[]string { return &f.ChrootDirs }),
		boolField(KeyImpersonateLinux26, false, "impersonate a Linux 2.6 kernel", func(f *Fields) *bool { return &f.ImpersonateLinux26 }),

		boolField(KeyKeepLog, true, "store build logs", func(f *Fields) *bool { return &f.KeepLog }),
		{Key: KeyLogCompression, Kind: KindText, Default: TextValue(CompressionGzip.String()), Usage: "build log compression: none, gzip or bzip2",
			bind: func(f *Fields, v Value) error {
				c, err := ParseCompression(v.Text)
				if err != nil {
					return err
				}
				f.LogCompression = c
				return nil
			}},
		countField(KeyMaxLogSize, 0, "bytes a builder may log, 0 for no limit", func(f *Fields) *int64 { return &f.MaxLogSize }),
		boolField(KeyCacheFailure, false, "cache build failures", func(f *Fields) *bool { return &f.CacheFailure }),
		secondsField(KeyPollInterval, 5, "seconds between lock polls", func(f *Fields) *time.Duration { return &f.PollInterval }),

		boolField(KeyCheckRootReachability, false, "check that new GC roots are reachable", func(f *Fields) *bool { return &f.CheckRootReachability }),
		boolField(KeyGCKeepOutputs, false, "keep outputs of live derivations", func(f *Fields) *bool { return &f.GCKeepOutputs }),
		boolField(KeyGCKeepDerivations, true, "keep derivers of live paths", func(f *Fields) *bool { return &f.GCKeepDerivations }),
		boolField(KeyAutoOptimiseStore, false, "hard-link identical store files", func(f *Fields) *bool { return &f.AutoOptimiseStore }),
		boolField(KeyEnvKeepDerivations, false, "keep derivations of user environments", func(f *Fields) *bool { return &f.EnvKeepDerivations }),

		boolField(KeyLockCPU, false, "pin client and worker to one CPU", func(f *Fields) *bool { return &f.LockCPU }),
		boolField(KeyShowTrace, false, "show stack traces on evaluation errors", func(f *Fields) *bool { return &f.ShowTrace }),
		boolField(KeyUseHostLoopback, false, "let fixed-output chroot builds reach the host loopback", func(f *Fields) *bool { return &f.UseHostLoopback }),
		textField(KeySlirp4netns, "slirp4netns", "slirp4netns program", func(f *Fields) *string { return &f.Slirp4netns }),
	}
}

var systemArch = map[string]string{
	"amd64":   "x86_64",
	"386":     "i686",
	"arm64":   "aarch64",
	"arm":     "armhf",
	"riscv64": "riscv64",
	"ppc64le": "powerpc64le",
}

func defaultSystem() string {
	arch, ok := systemArch[runtime.GOARCH]
	if !ok {
		arch = runtime.GOARCH
	}
	return arch + "-" + runtime.GOOS
}
