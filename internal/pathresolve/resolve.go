// Package pathresolve implements the path normalizer shared by the libc
// interposer and the ptrace tracer. Both callers need bit-for-bit agreement
// with the kernel's own path resolution, because the access-policy engine
// keys scope lookups on the canonical path.
package pathresolve

import (
	"path/filepath"
	"strings"
)

// FS abstracts the filesystem operations normalize needs, so tests can
// fabricate a symlink tree without touching the real filesystem. The
// production implementation (OSFilesystem) calls os.Readlink and reads
// /proc/<pid>/cwd; a fake implementation backs the unit tests below.
type FS interface {
	// Readlink returns the symlink target for path, or an error if path is
	// not a symlink (or doesn't exist).
	Readlink(path string) (string, error)
	// Getcwd returns the working directory of pid, used when dirfd is
	// AT_FDCWD. pid == 0 means "this process".
	Getcwd(pid int) (string, error)
}

// NoFollow mirrors O_NOFOLLOW / AT_SYMLINK_NOFOLLOW: when set, the final
// path component is not followed even if it is a symlink (it is still
// normalized lexically).
const NoFollow uint32 = 1 << 0

// SymlinkObserver receives one callback per unique intermediate symlink
// prefix resolved during a single normalize call, so the caller (which owns
// policy + cache + transport) can decide whether to emit a readlink report
// for it — exactly once per unique prefix per process lifetime.
type SymlinkObserver func(resolvedPrefix, target string)

// Resolver normalizes paths against a given FS.
type Resolver struct {
	fs FS
}

func New(fs FS) *Resolver {
	return &Resolver{fs: fs}
}

// Normalize resolves path (which may be relative to cwd) into an absolute,
// fully-resolved path. An empty return value means normalization failed and
// the caller must suppress the report.
func (r *Resolver) Normalize(path string, flags uint32, pid int, observe SymlinkObserver) string {
	return r.NormalizeAt("", path, flags, pid, observe)
}

// NormalizeAt resolves path relative to dirPath. dirPath is the directory
// the FD table already resolved fd/dirfd to; an empty dirPath means
// AT_FDCWD, in which case getcwd(pid) supplies the base.
func (r *Resolver) NormalizeAt(dirPath, path string, flags uint32, pid int, observe SymlinkObserver) string {
	if len(path) == 0 {
		return ""
	}

	abs := path
	if !filepath.IsAbs(path) {
		base := dirPath
		if base == "" {
			cwd, err := r.fs.Getcwd(pid)
			if err != nil || cwd == "" {
				return ""
			}
			base = cwd
		}
		abs = filepath.Join(base, path)
	}
	if !filepath.IsAbs(abs) {
		return ""
	}

	resolved, ok := r.walk(abs, flags, observe)
	if !ok {
		return ""
	}
	return resolved
}

// walk performs the lexical-collapse + symlink-splice loop. It never
// consults the real filesystem for ".."/"." segments (those are collapsed
// lexically, matching the kernel's own behavior of never escaping above
// root), only for readlink on real components.
func (r *Resolver) walk(abs string, flags uint32, observe SymlinkObserver) (string, bool) {
	segments := splitSegments(abs)
	visited := make(map[string]bool)

	var out []string
	for i := 0; i < len(segments); i++ {
		seg := segments[i]
		switch seg {
		case ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}

		out = append(out, seg)
		prefix := "/" + strings.Join(out, "/")

		isFinal := i == len(segments)-1
		if isFinal && flags&NoFollow != 0 {
			continue
		}

		if visited[prefix] {
			// Symlink loop: stop here without error rather than spin forever.
			return prefix, true
		}

		target, err := r.fs.Readlink(prefix)
		if err != nil {
			// Not a symlink (or doesn't exist yet, e.g. a path about to be
			// created) — leave the component as-is and keep walking.
			continue
		}

		visited[prefix] = true
		if observe != nil {
			observe(prefix, target)
		}

		var spliced []string
		if filepath.IsAbs(target) {
			spliced = append(spliced, splitSegments(target)...)
		} else {
			spliced = append(spliced, out[:len(out)-1]...)
			spliced = append(spliced, splitSegments(target)...)
		}
		spliced = append(spliced, segments[i+1:]...)
		segments = spliced
		out = nil
		i = -1
	}

	if len(out) == 0 {
		return "/", true
	}
	return "/" + strings.Join(out, "/"), true
}

func splitSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
