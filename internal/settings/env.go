package settings

import "strings"

// EnvBinding maps an environment variable to the setting it overrides.
type EnvBinding struct {
	Name string
	Key  string
}

// DefaultEnvBindings is the recognised environment. Bindings are consulted in
// order; when several variables target one key, the first one present wins.
var DefaultEnvBindings = []EnvBinding{
	{Name: "NIX_STORE_DIR", Key: KeyStoreDir},
	{Name: "NIX_STORE", Key: KeyStoreDir},
	{Name: "NIX_LOG_DIR", Key: KeyLogDir},
	{Name: "NIX_STATE_DIR", Key: KeyStateDir},
	{Name: "NIX_DB_DIR", Key: KeyDBDir},
	{Name: "NIX_CONF_DIR", Key: KeyConfDir},
	{Name: "NIX_BIN_DIR", Key: KeyBinDir},
	{Name: "GUIX_DAEMON_SOCKET", Key: KeyDaemonSocket},
	{Name: "GUIX", Key: KeyGuixProgram},
	{Name: "NIX_BUILD_CORES", Key: KeyBuildCores},
	{Name: "NIX_AFFINITY_HACK", Key: KeyLockCPU},
	{Name: "GUIX_SLIRP4NETNS", Key: KeySlirp4netns},
}

// ParseEnviron turns "NAME=VALUE" lines, as returned by os.Environ, into a
// snapshot map. Lines without '=' map to an empty value.
func ParseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, line := range environ {
		name, value, _ := strings.Cut(line, "=")
		if name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

// ScanEnvironment returns the overrides carried by env under bindings, one per
// key, in binding order. Unset and empty variables are skipped; unrecognised
// variables are ignored.
func ScanEnvironment(env map[string]string, bindings []EnvBinding) []Pair {
	var pairs []Pair
	seen := make(map[string]struct{}, len(bindings))
	for _, b := range bindings {
		if _, done := seen[b.Key]; done {
			continue
		}
		value, ok := env[b.Name]
		if !ok || value == "" {
			continue
		}
		seen[b.Key] = struct{}{}
		pairs = append(pairs, Pair{Key: b.Key, Value: value})
	}
	return pairs
}
