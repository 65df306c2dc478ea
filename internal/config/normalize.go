package config

import (
	"os"
	"path/filepath"
	"strings"
)

// containsGlobChars reports whether a scope prefix is actually a glob
// pattern rather than a plain filesystem path that should be resolved to an
// absolute, symlink-free form. A glob prefix is compiled as-is; the
// manifest's radix lookup compares it as a literal prefix and does not
// glob-match it.
func containsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}

// normalizeScopePrefix turns a manifest source's author-friendly prefix
// ("~/project", "./out", "build") into the absolute, symlink-resolved form
// the compiled manifest's radix lookup compares against at runtime. Glob
// patterns are left untouched; internal/manifest's scope lookup does not
// expand or glob-match them.
func normalizeScopePrefix(prefix string) string {
	if containsGlobChars(prefix) {
		return prefix
	}

	normalized := prefix
	switch {
	case prefix == "~":
		if home, err := os.UserHomeDir(); err == nil {
			normalized = home
		}
	case strings.HasPrefix(prefix, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			normalized = filepath.Join(home, prefix[2:])
		}
	case !filepath.IsAbs(prefix):
		if cwd, err := os.Getwd(); err == nil {
			normalized = filepath.Join(cwd, prefix)
		}
	}

	if resolved, err := filepath.EvalSymlinks(normalized); err == nil {
		return resolved
	}
	return normalized
}
