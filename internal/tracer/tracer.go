//go:build linux

// Package tracer is the ptrace fallback engine for statically linked
// binaries: it seizes a tracee (which has already installed the seccomp
// trace filter on itself, see InstallTraceFilter), decodes
// syscall arguments out of its registers and memory, and drives the same
// shared access package the libc interposer uses so both paths emit
// byte-identical records.
package tracer

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/Use-Tusk/buildsentry/internal/access"
	"github.com/Use-Tusk/buildsentry/internal/buildlog"
	"github.com/Use-Tusk/buildsentry/internal/direnum"
	"github.com/Use-Tusk/buildsentry/internal/fdtable"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/internal/pathresolve"
	"github.com/Use-Tusk/buildsentry/internal/staticlink"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

const ptraceOptions = syscall.PTRACE_O_TRACECLONE |
	syscall.PTRACE_O_TRACEFORK |
	syscall.PTRACE_O_TRACEVFORK |
	syscall.PTRACE_O_TRACEEXEC |
	syscall.PTRACE_O_TRACEEXIT |
	unix.PTRACE_O_TRACESECCOMP |
	syscall.PTRACE_O_TRACESYSGOOD

// errLogInterval throttles buildlog.Errorf for per-syscall failures
// (a runaway tracee issuing thousands of failing syscalls should not flood
// stderr).
const errLogInterval = time.Second

// TraceeEntry tracks the bits of per-tracee state the wait loop needs for
// one seized process.
type TraceeEntry struct {
	Pid int
}

// Tracer owns one process tree's ptrace session.
type Tracer struct {
	Manifest *manifest.Manifest
	Reporter *access.Reporter
	Resolver *pathresolve.Resolver
	Static   *staticlink.Detector

	mu      sync.Mutex
	tracees map[int]*TraceeEntry
	fds     map[int]*fdtable.Table

	errLimiter *rate.Limiter
}

func New(m *manifest.Manifest, r *access.Reporter, resolver *pathresolve.Resolver, static *staticlink.Detector) *Tracer {
	return &Tracer{
		Manifest:   m,
		Reporter:   r,
		Resolver:   resolver,
		Static:     static,
		tracees:    make(map[int]*TraceeEntry),
		fds:        make(map[int]*fdtable.Table),
		errLimiter: rate.NewLimiter(rate.Every(errLogInterval), 1),
	}
}

// Seize attaches to pid via PTRACE_SEIZE (the tracee need not be stopped)
// and installs the event options every tracee needs, then registers it.
func (t *Tracer) Seize(pid int) error {
	runtime.LockOSThread()

	if err := unix.PtraceSeize(pid, ptraceOptions); err != nil {
		return fmt.Errorf("tracer: PTRACE_SEIZE %d: %w", pid, err)
	}
	if err := unix.PtraceInterrupt(pid); err != nil {
		return fmt.Errorf("tracer: PTRACE_INTERRUPT %d: %w", pid, err)
	}

	t.mu.Lock()
	t.tracees[pid] = &TraceeEntry{Pid: pid}
	t.fds[pid] = fdtable.New(fdtable.NewOSProcFS(), pid)
	t.mu.Unlock()

	return syscall.PtraceCont(pid, 0)
}

// Run drives the wait loop until every seized tracee has exited. It never
// returns an error for individual syscall failures — those are logged and
// skipped so one malformed tracee can't kill the whole tracer.
func (t *Tracer) Run() error {
	var status syscall.WaitStatus
	for {
		t.mu.Lock()
		remaining := len(t.tracees)
		t.mu.Unlock()
		if remaining == 0 {
			return nil
		}

		pid, err := syscall.Wait4(-1, &status, 0, nil)
		if err != nil {
			if err == syscall.ECHILD {
				return nil
			}
			return fmt.Errorf("tracer: wait4: %w", err)
		}

		if status.Exited() || status.Signaled() {
			t.handleExit(pid, status.ExitStatus())
			continue
		}
		if !status.Stopped() {
			continue
		}

		sig := status.StopSignal()
		if sig != syscall.SIGTRAP {
			if sig == syscall.SIGSTOP {
				sig = 0
			}
			_ = syscall.PtraceCont(pid, int(sig))
			continue
		}

		var regs syscall.PtraceRegs
		if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
			t.logErr("tracer: GETREGS pid %d: %v", pid, err)
			_ = syscall.PtraceCont(pid, 0)
			continue
		}

		switch status.TrapCause() {
		case syscall.PTRACE_EVENT_CLONE, syscall.PTRACE_EVENT_FORK, syscall.PTRACE_EVENT_VFORK:
			t.handleSpawn(pid)
		case syscall.PTRACE_EVENT_EXEC:
			t.handleExecEvent(pid, &regs)
		case unix.PTRACE_EVENT_SECCOMP:
			t.handleSeccompStop(pid, &regs)
			_ = syscall.PtraceCont(pid, 0)
			continue
		}

		_ = syscall.PtraceCont(pid, 0)
	}
}

func (t *Tracer) handleSpawn(parentPid int) {
	childPid, err := syscall.PtraceGetEventMsg(parentPid)
	if err != nil {
		t.logErr("tracer: GETEVENTMSG (spawn) pid %d: %v", parentPid, err)
		return
	}

	t.mu.Lock()
	t.tracees[int(childPid)] = &TraceeEntry{Pid: int(childPid)}
	parentTable := t.fds[parentPid]
	t.mu.Unlock()

	if parentTable != nil {
		t.mu.Lock()
		t.fds[int(childPid)] = parentTable.Fork(int(childPid))
		t.mu.Unlock()
	}

	t.Reporter.ReportFork(int32(parentPid), int32(childPid))
}

func (t *Tracer) handleExecEvent(pid int, regs *syscall.PtraceRegs) {
	resolvedPath, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return
	}
	basename := resolvedPath
	for i := len(resolvedPath) - 1; i >= 0; i-- {
		if resolvedPath[i] == '/' {
			basename = resolvedPath[i+1:]
			break
		}
	}
	t.Reporter.ReportExecPair(int32(pid), basename, resolvedPath)

	t.mu.Lock()
	if table, ok := t.fds[pid]; ok {
		table.Disabled = t.Manifest.PtraceEnabled()
	}
	t.mu.Unlock()
}

func (t *Tracer) handleExit(pid int, errno int) {
	t.Reporter.ReportExit(int32(pid), int32(errno))

	t.mu.Lock()
	delete(t.tracees, pid)
	delete(t.fds, pid)
	t.mu.Unlock()
}

// handleSeccompStop decodes the syscall currently trapped by
// SECCOMP_RET_TRACE and emits whatever reports the syscall table says it
// produces. The caller issues the PTRACE_CONT that lets it run to
// completion.
func (t *Tracer) handleSeccompStop(pid int, regs *syscall.PtraceRegs) {
	nr := regs.Orig_rax
	spec, ok := syscallTable[nr]
	if !ok {
		return
	}

	t.mu.Lock()
	table := t.fds[pid]
	t.mu.Unlock()
	if table == nil {
		return
	}

	dirPath := t.resolveDirfd(table, regs, spec.dirfdArg)

	var path, path2 string
	if spec.pathArg >= 0 {
		path = t.readPathArg(pid, regs, spec.pathArg, dirPath, spec.noFollow)
	}
	if spec.path2Arg >= 0 {
		dir2 := dirPath
		if spec.dirfd2Arg >= 0 {
			dir2 = t.resolveDirfd(table, regs, spec.dirfd2Arg)
		}
		path2 = t.readPathArg(pid, regs, spec.path2Arg, dir2, spec.noFollow)
	}

	switch spec.op {
	case manifestfmt.OpRenameSource:
		if path != "" && path2 != "" {
			isDir := false
			if info, err := os.Lstat(path); err == nil {
				isDir = info.IsDir()
			}
			t.Reporter.ReportRename(int32(pid), path, path2, isDir)
			if isDir {
				for _, child := range direnum.Children(path) {
					t.Reporter.ReportRename(int32(pid), path+"/"+child.RelPath, path2+"/"+child.RelPath, child.IsDir)
				}
			}
		}
	default:
		if path == "" {
			return
		}
		t.Reporter.Report(access.Event{
			Pid:             int32(pid),
			Op:              spec.op,
			Path:            path,
			RequestedAccess: spec.access,
			IsFileBacked:    true,
		})
	}
}

func (t *Tracer) resolveDirfd(table *fdtable.Table, regs *syscall.PtraceRegs, dirfdArg int) string {
	if dirfdArg < 0 {
		return ""
	}
	dirfd := int(int64(argValue(regs, dirfdArg)))
	if dirfd == unix.AT_FDCWD {
		return ""
	}
	path, ok := table.Get(dirfd)
	if !ok {
		return ""
	}
	return path
}

func (t *Tracer) readPathArg(pid int, regs *syscall.PtraceRegs, argIdx int, dirPath string, noFollow bool) string {
	ptr := argValue(regs, argIdx)
	raw, err := peekString(pid, ptr)
	if err != nil || raw == "" {
		return ""
	}
	var flags uint32
	if noFollow {
		flags = pathresolve.NoFollow
	}
	return t.Resolver.NormalizeAt(dirPath, raw, flags, pid, func(resolvedPrefix, target string) {
		t.Reporter.Report(access.Event{
			Pid:             int32(pid),
			Op:              manifestfmt.OpReadlink,
			Path:            resolvedPrefix,
			RequestedAccess: manifestfmt.AccessRead,
			IsFileBacked:    true,
		})
	})
}

func (t *Tracer) logErr(format string, args ...interface{}) {
	if t.errLimiter.Allow() {
		buildlog.Errorf(format, args...)
	}
}

// peekString reads a NUL-terminated string out of the tracee's address
// space one byte per PTRACE_PEEKDATA call.
func peekString(pid int, ptr uint64) (string, error) {
	var result []byte
	buf := make([]byte, 1)
	for i := uint64(0); i < manifestfmt.MaxPathLen; i++ {
		n, err := syscall.PtracePeekData(pid, uintptr(ptr+i), buf)
		if err != nil || n != len(buf) {
			return "", err
		}
		if buf[0] == 0 {
			return string(result), nil
		}
		result = append(result, buf[0])
	}
	return string(result), nil
}

// argValue reads the x86_64 syscall-argument register by position
// (0 == rdi ... 5 == r9), matching the amd64 syscall ABI.
func argValue(regs *syscall.PtraceRegs, idx int) uint64 {
	switch idx {
	case 0:
		return regs.Rdi
	case 1:
		return regs.Rsi
	case 2:
		return regs.Rdx
	case 3:
		return regs.R10
	case 4:
		return regs.R8
	case 5:
		return regs.R9
	default:
		return 0
	}
}
