package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestResolveForcedDenyExecNames_SkipsGlobMetaChars(t *testing.T) {
	got := resolveForcedDenyExecNames([]string{"python*", "", "  "})
	if len(got) != 0 {
		t.Fatalf("expected glob-looking/empty names to be skipped, got %v", got)
	}
}

func TestResolveForcedDenyExecNames_ResolvesKnownBinary(t *testing.T) {
	if len(resolveExecutablePaths("true")) == 0 {
		t.Skip("true not available on this system")
	}

	got := resolveForcedDenyExecNames([]string{"true"})
	if len(got) == 0 {
		t.Fatalf("expected at least one resolved path for a known executable")
	}
	for _, p := range got {
		if !filepath.IsAbs(p) {
			t.Fatalf("expected absolute resolved path, got %s", p)
		}
	}
}

func TestResolveExecutablePaths_CanonicalizesSymlinkAliases(t *testing.T) {
	info, err := os.Lstat("/bin")
	if err != nil {
		t.Skip("/bin not present")
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Skip("/bin is not a symlink on this system")
	}

	paths := resolveExecutablePaths("true")
	if len(paths) == 0 {
		t.Skip("true not available on this system")
	}
	for _, p := range paths {
		if strings.HasPrefix(p, "/bin/") {
			t.Fatalf("expected canonical (non-/bin) path, got: %s", p)
		}
	}
}

func TestResolveForcedDenyExecNames_Deduplicates(t *testing.T) {
	if len(resolveExecutablePaths("true")) == 0 {
		t.Skip("true not available on this system")
	}
	once := resolveForcedDenyExecNames([]string{"true"})
	twice := resolveForcedDenyExecNames([]string{"true", "true"})
	if !slices.Equal(once, twice) {
		t.Fatalf("expected duplicate names to collapse: %v vs %v", once, twice)
	}
}
