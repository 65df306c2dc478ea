// Package direnum enumerates a directory's descendants so a rename of a
// directory can re-emit the same unlink@src/create@dst pair for every
// child, not just the top-level path. Both the libc interposer and the
// ptrace tracer run this before the real rename(2) happens (the shim fires
// ahead of the syscall), so the walk reads the pre-rename tree rooted at
// the source path.
package direnum

import (
	"os"
	"path/filepath"
)

// Entry is one descendant found under a renamed directory's source path.
type Entry struct {
	// RelPath is the descendant's path relative to the renamed directory,
	// using "/" separators regardless of host OS.
	RelPath string
	IsDir   bool
}

// Children walks root (a directory about to be the source of a rename) and
// returns every descendant beneath it, root itself excluded. A directory
// that can't be read (removed mid-walk, permission denied) is skipped
// rather than aborting the whole enumeration — the caller already has the
// top-level rename pair covered regardless.
func Children(root string) []Entry {
	var entries []Entry
	var walk func(dir, relPrefix string)
	walk = func(dir, relPrefix string) {
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, de := range dirEntries {
			rel := de.Name()
			if relPrefix != "" {
				rel = relPrefix + "/" + de.Name()
			}
			isDir := de.IsDir()
			entries = append(entries, Entry{RelPath: rel, IsDir: isDir})
			if isDir {
				walk(filepath.Join(dir, de.Name()), rel)
			}
		}
	}
	walk(root, "")
	return entries
}
