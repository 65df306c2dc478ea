package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

var commonExecutableDirs = []string{
	"/usr/bin",
	"/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/opt/local/bin",
}

// resolveForcedDenyExecNames turns the manifest source's bare executable
// names (e.g. "curl") into the absolute, symlink-resolved paths
// ShouldForceDenyExec actually compares against — the compiled manifest's
// exact-match set is keyed on resolved paths, not names, so an unresolved
// name would never match anything at runtime. A name containing shell
// glob/meta characters is skipped; it belongs in ForcedDenyExec.Patterns
// instead, matched directly against the resolved path at runtime.
func resolveForcedDenyExecNames(names []string) []string {
	var paths []string
	seen := make(map[string]bool)

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, "*?[]|&;()<>$`=") {
			continue
		}
		for _, resolved := range resolveExecutablePaths(name) {
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			paths = append(paths, resolved)
		}
	}

	slices.Sort(paths)
	return paths
}

func resolveExecutablePaths(token string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	addCanonicalPath := func(p string) {
		if p == "" {
			return
		}
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			add(resolved)
			return
		}
		add(p)
	}

	if strings.ContainsRune(token, filepath.Separator) {
		abs := token
		if !filepath.IsAbs(abs) {
			if cwd, err := os.Getwd(); err == nil {
				abs = filepath.Join(cwd, abs)
			}
		}
		if executablePathExists(abs) {
			addCanonicalPath(abs)
		}
		return paths
	}

	if resolved, err := exec.LookPath(token); err == nil {
		addCanonicalPath(resolved)
	}

	for _, dir := range commonExecutableDirs {
		candidate := filepath.Join(dir, token)
		if executablePathExists(candidate) {
			addCanonicalPath(candidate)
		}
	}

	return paths
}

func executablePathExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
