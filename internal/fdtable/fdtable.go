// Package fdtable is the per-process map from an open file
// descriptor to its last-known resolved path. It backs normalize_at's
// dirfd/fd -> path lookups and write-content events that are keyed only by
// fd (write, writev, pwrite*).
package fdtable

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

// MaxFD bounds the fixed-size slot array. Descriptors at or above this are
// resolved on demand via /proc rather than cached.
const MaxFD = 1024

// ProcFS abstracts the /proc/<pid>/fd/N readlink used as a fallback path
// source, so tests can fabricate descriptor tables without real processes.
// The production path uses afero.NewOsFs(); tests supply their own ProcFS
// implementation backed by a plain fd -> path map.
type ProcFS interface {
	ReadFdLink(pid, fd int) (string, bool)
}

// osProcFS is the real /proc/<pid>/fd/N reader.
type osProcFS struct {
	fs afero.Fs
}

func NewOSProcFS() ProcFS {
	return &osProcFS{fs: afero.NewOsFs()}
}

func (o *osProcFS) ReadFdLink(pid, fd int) (string, bool) {
	reader, ok := o.fs.(afero.LinkReader)
	if !ok {
		return "", false
	}
	target, err := reader.ReadlinkIfPossible(procFdPath(pid, fd))
	if err != nil {
		return "", false
	}
	return target, true
}

func procFdPath(pid, fd int) string {
	root := "self"
	if pid > 0 {
		root = fmt.Sprintf("%d", pid)
	}
	return fmt.Sprintf("/proc/%s/fd/%d", root, fd)
}

// Table is the FD -> path cache for one process. It is safe for concurrent
// use by multiple threads.
type Table struct {
	mu      sync.RWMutex
	slots   [MaxFD]string
	overrun map[int]string // descriptors >= MaxFD, rare but must not be dropped
	proc    ProcFS
	pid     int
	// Disabled is set while the ptrace tracer drives a tracee directly: the
	// tracer can't observe the tracee's own libc calls, so its FD table
	// entries would silently go stale.
	Disabled bool
}

func New(proc ProcFS, pid int) *Table {
	return &Table{proc: proc, pid: pid, overrun: make(map[int]string)}
}

// Get returns the last-known path for fd, falling back to /proc/<pid>/fd/N.
func (t *Table) Get(fd int) (string, bool) {
	if t.Disabled {
		return t.procLookup(fd)
	}
	if fd < 0 {
		return "", false
	}
	if fd < MaxFD {
		t.mu.RLock()
		path := t.slots[fd]
		t.mu.RUnlock()
		if path != "" {
			return path, true
		}
		return t.procLookup(fd)
	}

	t.mu.RLock()
	path, ok := t.overrun[fd]
	t.mu.RUnlock()
	if ok {
		return path, true
	}
	return t.procLookup(fd)
}

func (t *Table) procLookup(fd int) (string, bool) {
	if t.proc == nil {
		return "", false
	}
	return t.proc.ReadFdLink(t.pid, fd)
}

// Set records the resolved path fd now refers to, e.g. right after open().
func (t *Table) Set(fd int, path string) {
	if fd < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < MaxFD {
		t.slots[fd] = path
		return
	}
	t.overrun[fd] = path
}

// Invalidate clears fd's entry. Called on close/dup/dup2/dup3/fcntl(F_DUPFD*)
// and any internal open that could reuse the descriptor — including the
// observer's own report-pipe descriptor after each write, so a reused fd
// doesn't inherit a stale cache entry.
func (t *Table) Invalidate(fd int) {
	if fd < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < MaxFD {
		t.slots[fd] = ""
		return
	}
	delete(t.overrun, fd)
}

// Fork returns a copy of t for a child process. The kernel already
// duplicates the real descriptor table on fork/clone/vfork; this just
// mirrors that at the cache layer so the child doesn't start with a cold
// cache.
func (t *Table) Fork(childPID int) *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()

	child := New(t.proc, childPID)
	child.slots = t.slots
	for fd, path := range t.overrun {
		child.overrun[fd] = path
	}
	return child
}
