package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResolvesExtends(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.json", `{
		// shared base
		"ptraceEnabled": true,
		"scopes": [{"prefix": "/", "allowRead": true, "allowProbe": true}]
	}`)
	child := writeFile(t, dir, "child.json", `{
		"extends": "base.json",
		"monitorChildren": true,
		"scopes": [{"prefix": "/out", "allowWrite": true}]
	}`)

	cfg, err := Load(child)
	require.NoError(t, err)

	assert.True(t, cfg.PtraceEnabled, "inherited from base")
	assert.True(t, cfg.MonitorChildren, "set by child")
	assert.Empty(t, cfg.Extends, "resolved away")
	require.Len(t, cfg.Scopes, 2, "child's scopes add to the base's rather than replacing them")
	assert.Equal(t, "/", cfg.Scopes[0].Prefix)
	assert.Equal(t, "/out", cfg.Scopes[1].Prefix)
}

func TestLoadConcatenatesForcedSetsAcrossExtends(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.json", `{
		"scopes": [{"prefix": "/", "allowRead": true}],
		"forcedPtrace": {"names": ["busybox"]},
		"forcedDenyExec": {"patterns": ["*.sh"]}
	}`)
	child := writeFile(t, dir, "child.json", `{
		"extends": "base.json",
		"scopes": [{"prefix": "/out", "allowWrite": true}],
		"forcedPtrace": {"names": ["musl-gcc"]},
		"forcedDenyExec": {"names": ["curl"]}
	}`)

	cfg, err := Load(child)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"busybox", "musl-gcc"}, cfg.ForcedPtrace.Names)
	assert.Equal(t, []string{"*.sh"}, cfg.ForcedDenyExec.Patterns)
	assert.Equal(t, []string{"curl"}, cfg.ForcedDenyExec.Names)
	require.Len(t, cfg.Scopes, 2)
}

func TestLoadDetectsExtendsCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"extends": "b.json"}`)
	b := writeFile(t, dir, "b.json", `{"extends": "a.json"}`)

	_, err := Load(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCompileProducesRoundTrippableManifest(t *testing.T) {
	cfg := Default()
	cfg.PtraceEnabled = true
	cfg.ForcedPtrace.Patterns = []string{"*-static"}

	raw, err := Compile(cfg, 7, 100)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), raw.PipID)
	assert.Equal(t, int32(100), raw.PidOfRootProcess)
	assert.True(t, raw.Flags.Has(manifestfmt.FlagPtraceEnabled))
	require.Len(t, raw.Scopes, 1)
	assert.Equal(t, "/", raw.Scopes[0].Prefix)
	assert.True(t, raw.Scopes[0].Policy.AllowRead)
	assert.Equal(t, []string{"*-static"}, raw.ForcedPtracePatterns)
}

func TestCompileRejectsEmptyScopes(t *testing.T) {
	_, err := Compile(&Config{}, 1, 1)
	require.Error(t, err)
}
