//go:build linux

package pathresolve

import (
	"fmt"
	"os"
)

// OSFilesystem resolves symlinks and working directories against the real
// kernel, optionally scoped to another process's /proc/<pid> namespace — the
// ptrace tracer passes the tracee's pid so /proc/<pid>/cwd and
// /proc/<pid>/fd/N become the source of truth for a process it cannot ask
// directly.
type OSFilesystem struct{}

func (OSFilesystem) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (OSFilesystem) Getcwd(pid int) (string, error) {
	if pid <= 0 {
		return os.Getwd()
	}
	return os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
}
