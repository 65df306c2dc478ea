// Package manifest implements the immutable, per-process access manifest.
// It is parsed once at first hook after execve and lives until process
// exit.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// EnvManifestPath names the environment variable carrying the manifest
// file's location.
const EnvManifestPath = "BXL_FAM_PATH"

// Manifest is the decoded, queryable access manifest. It is safe for
// concurrent read-only use by every thread in the process; nothing mutates
// it after Load returns.
type Manifest struct {
	PipID              uint64
	PidOfRootProcess   int32
	ReportPipePath     string
	PreloadLibraryPath string
	PtraceMQName       string
	Flags              manifestfmt.ExtraFlags

	policyTree    *iradix.Tree // []byte(prefix) -> manifestfmt.ScopePolicy
	forcedPtrace  map[string]struct{}
	forcedDenyXec map[string]struct{}

	forcedPtracePatterns  []string
	forcedDenyXecPatterns []string
}

// Load reads the manifest path named by BXL_FAM_PATH and decodes it. Any
// failure here is a fatal configuration error: a child running without a
// manifest produces no reports and the build would cache a wrong result,
// so the caller is expected to log and _exit(1) rather than continue.
func Load() (*Manifest, error) {
	path := os.Getenv(EnvManifestPath)
	if path == "" {
		return nil, fmt.Errorf("manifest: %s is not set", EnvManifestPath)
	}
	return LoadFromPath(path)
}

// LoadFromPath decodes a manifest blob from an explicit path, bypassing the
// environment variable lookup. Exposed mainly for tests and the manifestc
// inspector.
func LoadFromPath(path string) (*Manifest, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(blob)
}

// Parse decodes an in-memory manifest blob.
func Parse(blob []byte) (*Manifest, error) {
	raw, err := manifestfmt.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}

	tree := iradix.New()
	for _, scope := range raw.Scopes {
		tree, _, _ = tree.Insert([]byte(trieKey(scope.Prefix)), scope.Policy)
	}

	m := &Manifest{
		PipID:              raw.PipID,
		PidOfRootProcess:   raw.PidOfRootProcess,
		ReportPipePath:     raw.ReportPipePath,
		PreloadLibraryPath: raw.PreloadLibraryPath,
		PtraceMQName:       raw.PtraceMQName,
		Flags:              raw.Flags,
		policyTree:            tree,
		forcedPtrace:          toSet(raw.ForcedPtraceNames),
		forcedDenyXec:         toSet(raw.ForcedDenyExec),
		forcedPtracePatterns:  raw.ForcedPtracePatterns,
		forcedDenyXecPatterns: raw.ForcedDenyExecPatterns,
	}
	return m, nil
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Lookup returns the policy of the deepest scope in the trie prefixing
// absPath. Parse installs only the scopes the blob lists (the config.Base
// and config.Default sources both include a root "/" scope); an empty tree,
// or a path no scope prefixes, resolves to the zero-value ScopePolicy (deny
// everything).
func (m *Manifest) Lookup(absPath string) manifestfmt.ScopePolicy {
	// trieKey appends a trailing separator to every stored scope prefix and
	// to the query path, so LongestPrefix can only match at a real path
	// component boundary — a scope "/out" must not match a sibling path
	// like "/outside/file" just because it shares a byte prefix.
	_, value, ok := m.policyTree.Root().LongestPrefix([]byte(trieKey(absPath)))
	if !ok {
		return manifestfmt.ScopePolicy{}
	}
	return value.(manifestfmt.ScopePolicy)
}

func trieKey(prefix string) string {
	if prefix == "/" || prefix == "" {
		return "/"
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

// IsMonitoringChildren reports whether descendants of this process should
// also be preloaded/ptraced.
func (m *Manifest) IsMonitoringChildren() bool {
	return m.Flags.Has(manifestfmt.FlagMonitorChildren)
}

// PtraceEnabled reports whether the static-linking fallback path is active
// at all for this pip.
func (m *Manifest) PtraceEnabled() bool {
	return m.Flags.Has(manifestfmt.FlagPtraceEnabled)
}

// PtraceUnconditional reports whether every child should be routed through
// ptrace regardless of the static-linking probe.
func (m *Manifest) PtraceUnconditional() bool {
	return m.Flags.Has(manifestfmt.FlagPtraceUnconditional)
}

// ShouldForcePtrace reports whether basename is in the manifest's forced
// ptrace set, either by exact name or by matching one of its glob patterns.
func (m *Manifest) ShouldForcePtrace(basename string) bool {
	if _, ok := m.forcedPtrace[basename]; ok {
		return true
	}
	return matchesAnyPattern(m.forcedPtracePatterns, basename)
}

// ShouldForceDenyExec reports whether the resolved executable path is on
// the manifest's forced-deny-exec list — execs of these paths are refused
// outright rather than merely reported.
func (m *Manifest) ShouldForceDenyExec(resolvedPath string) bool {
	if _, ok := m.forcedDenyXec[resolvedPath]; ok {
		return true
	}
	return matchesAnyPattern(m.forcedDenyXecPatterns, resolvedPath)
}

// ForcedPtraceBasenames returns the manifest's forced-ptrace name set as a
// sorted slice, the form BXL_PTRACE_FORCED propagates to a monitored
// child's environment (semicolon-joined by the caller).
func (m *Manifest) ForcedPtraceBasenames() []string {
	names := make([]string, 0, len(m.forcedPtrace))
	for name := range m.forcedPtrace {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// matchesAnyPattern reports whether name matches any doublestar glob in
// patterns. A malformed pattern is skipped rather than treated as fatal —
// manifest compilation already validates patterns, so a bad one here means
// the manifest was hand-edited after compiling.
func matchesAnyPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
