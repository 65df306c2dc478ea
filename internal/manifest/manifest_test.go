package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

func buildTestManifest(t *testing.T) *Manifest {
	t.Helper()
	raw := manifestfmt.RawManifest{
		PipID:            7,
		PidOfRootProcess: 1,
		ReportPipePath:   "/tmp/report.fifo",
		Flags:            manifestfmt.FlagMonitorChildren | manifestfmt.FlagPtraceEnabled,
		ForcedPtraceNames: []string{"static-bin"},
		ForcedDenyExec:    []string{"/usr/bin/curl"},
		Scopes: []manifestfmt.ScopeEntry{
			{Prefix: "/", Policy: manifestfmt.ScopePolicy{AllowProbe: true}},
			{Prefix: "/out", Policy: manifestfmt.ScopePolicy{AllowRead: true, AllowWrite: true, IsWriteableMount: true}},
			{Prefix: "/etc", Policy: manifestfmt.ScopePolicy{AllowRead: true, ReportExplicitly: true}},
		},
	}
	blob, err := manifestfmt.Encode(raw)
	require.NoError(t, err)

	m, err := Parse(blob)
	require.NoError(t, err)
	return m
}

func TestLookupFindsDeepestScope(t *testing.T) {
	m := buildTestManifest(t)

	policy := m.Lookup("/out/build/a.o")
	require.True(t, policy.AllowWrite)
	require.True(t, policy.IsWriteableMount)
}

func TestLookupDoesNotMatchSiblingByBytePrefix(t *testing.T) {
	m := buildTestManifest(t)

	// "/outside/file" shares a byte prefix with "/out" but is not under it.
	policy := m.Lookup("/outside/file")
	require.False(t, policy.AllowWrite)
	require.True(t, policy.AllowProbe) // falls back to root "/" scope
}

func TestLookupFallsBackToRoot(t *testing.T) {
	m := buildTestManifest(t)
	policy := m.Lookup("/some/random/path")
	require.True(t, policy.AllowProbe)
	require.False(t, policy.AllowWrite)
}

func TestLookupExactScopePath(t *testing.T) {
	m := buildTestManifest(t)
	policy := m.Lookup("/out")
	require.True(t, policy.AllowWrite)
}

func TestShouldForcePtraceAndDenyExec(t *testing.T) {
	m := buildTestManifest(t)
	require.True(t, m.ShouldForcePtrace("static-bin"))
	require.False(t, m.ShouldForcePtrace("dynamic-bin"))
	require.True(t, m.ShouldForceDenyExec("/usr/bin/curl"))
	require.False(t, m.ShouldForceDenyExec("/usr/bin/git"))
}

func TestForcedPtraceBasenamesIsSortedForDeterministicEnvPropagation(t *testing.T) {
	m := buildTestManifest(t)
	require.Equal(t, []string{"static-bin"}, m.ForcedPtraceBasenames())
}

func TestFlagAccessors(t *testing.T) {
	m := buildTestManifest(t)
	require.True(t, m.IsMonitoringChildren())
	require.True(t, m.PtraceEnabled())
	require.False(t, m.PtraceUnconditional())
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.bin")

	raw := manifestfmt.RawManifest{
		ReportPipePath: "/tmp/r.fifo",
		Scopes:         []manifestfmt.ScopeEntry{{Prefix: "/", Policy: manifestfmt.ScopePolicy{AllowRead: true}}},
	}
	blob, err := manifestfmt.Encode(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	m, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/r.fifo", m.ReportPipePath)
}

func TestLoadMissingEnvVar(t *testing.T) {
	t.Setenv(EnvManifestPath, "")
	os.Unsetenv(EnvManifestPath)
	_, err := Load()
	require.Error(t, err)
}
