//go:build linux

// Package interpose models the libc interposer's hook surface in pure Go.
// It cannot actually dlopen or preload itself the way a shared object built
// from C would — a Go program can't be loaded as an LD_PRELOAD target — so
// this package instead gives every hook family (exec, open, stat, access,
// write, truncate, the directory-mutation family, readlink, perm, time,
// process) a plain function that takes the same inputs libc would have
// handed the real shim and drives the shared access.Reporter exactly as the
// C interposer would. A future native interposer can call into this package
// through cgo without duplicating any policy logic.
package interpose

import (
	"os"
	"syscall"
	"time"

	"github.com/Use-Tusk/buildsentry/internal/access"
	"github.com/Use-Tusk/buildsentry/internal/direnum"
	"github.com/Use-Tusk/buildsentry/internal/fdtable"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/internal/pathresolve"
	"github.com/Use-Tusk/buildsentry/internal/posixmq"
	"github.com/Use-Tusk/buildsentry/internal/staticlink"
	"github.com/Use-Tusk/buildsentry/internal/tracer"
	"github.com/Use-Tusk/buildsentry/internal/tracerhandoff"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// OpenFlags mirrors the subset of libc open(2) flags the open-for-read and
// open-for-write hook families need to distinguish.
type OpenFlags uint32

const (
	OCreat OpenFlags = 1 << iota
	OTrunc
	OWronly
	ORdwr
)

// MQSender is the subset of posixmq.Queue the exec handoff needs to
// announce a statically-linked child to the tracer daemon.
type MQSender interface {
	Send(msg string) error
	Close() error
}

// Shims bundles the per-process state every hook family needs: the FD
// table, the path resolver, and the reporter the decision ultimately flows
// through. Manifest, Static, ManifestPath, InstallSeccomp, OpenMQ and Sleep
// are only consulted by Exec, for the static-link/seccomp/ptrace handoff;
// every other hook family needs just FDs/Resolver/Reporter.
type Shims struct {
	FDs      *fdtable.Table
	Resolver *pathresolve.Resolver
	Reporter *access.Reporter

	Manifest     *manifest.Manifest
	Static       *staticlink.Detector
	ManifestPath string

	// InstallSeccomp installs a seccomp trace filter on the calling
	// process. nil disables the ptrace handoff entirely (Exec still
	// reports and deny-checks, it just never hands off to the tracer).
	InstallSeccomp func(prog *syscall.SockFprog) error
	// OpenMQ opens the named ptrace handoff queue for sending. nil
	// disables the handoff the same way a nil InstallSeccomp does.
	OpenMQ func(name string) (MQSender, error)
	// Sleep pauses after the handoff message is sent, giving the tracer
	// daemon time to PTRACE_SEIZE before the caller proceeds to the real
	// exec. nil skips the pause.
	Sleep func(d time.Duration)
}

// NewShims builds the production wiring: a real staticlink.Detector, real
// seccomp installation, real POSIX mqueue sends, and a real pause before the
// caller proceeds to the actual exec. Tests construct a Shims literal
// directly instead, so they can fake InstallSeccomp/OpenMQ/Sleep.
func NewShims(fds *fdtable.Table, resolver *pathresolve.Resolver, reporter *access.Reporter, m *manifest.Manifest, manifestPath string) *Shims {
	return &Shims{
		FDs:            fds,
		Resolver:       resolver,
		Reporter:       reporter,
		Manifest:       m,
		Static:         staticlink.New(staticlink.NewExecRunner()),
		ManifestPath:   manifestPath,
		InstallSeccomp: tracer.InstallTraceFilter,
		OpenMQ: func(name string) (MQSender, error) {
			return posixmq.Open(name, false)
		},
		Sleep: time.Sleep,
	}
}

// ptraceHandoffSleep is how long a statically-linked child waits after
// announcing itself on the mqueue, giving the tracer daemon time to
// PTRACE_SEIZE it before it execs the real target.
const ptraceHandoffSleep = 2 * time.Second

func (s *Shims) resolve(pid int, dirPath, raw string, noFollow bool) (string, bool) {
	var flags uint32
	if noFollow {
		flags = pathresolve.NoFollow
	}
	resolved := s.Resolver.NormalizeAt(dirPath, raw, flags, pid, func(prefix, target string) {
		s.Reporter.Report(access.Event{
			Pid:             int32(pid),
			Op:              manifestfmt.OpReadlink,
			Path:            prefix,
			RequestedAccess: manifestfmt.AccessRead,
			IsFileBacked:    true,
		})
	})
	return resolved, resolved != ""
}

func (s *Shims) dirPath(dirfd int) string {
	if dirfd == unixAtFdcwd {
		return ""
	}
	path, ok := s.FDs.Get(dirfd)
	if !ok {
		return ""
	}
	return path
}

// unixAtFdcwd mirrors AT_FDCWD (-100) without importing the unix package
// into a file that otherwise needs no ptrace-only symbols.
const unixAtFdcwd = -100

// Exec models the exec hook family: execve, execvp, execvpe, execl*,
// posix_spawn*. It reports unconditionally except for a forced-deny-exec
// match, which it reports as denied and returns true for instead — the
// caller must not invoke the real exec symbol in that case. Otherwise it
// emits the mandatory basename-then-resolved-path pair (bypassing the cache
// via ReportExecPair; the policy engine still sets each record's
// allowed/denied status) and, if the target
// needs the ptrace fallback, performs the full handoff: install a seccomp
// trace filter on the calling process, announce pid/ppid/exePath/manifest
// on the ptrace mqueue, then sleep so the tracer daemon has time to seize
// before the caller proceeds to the real exec.
func (s *Shims) Exec(pid int, dirfd int, rawPath string) (deny bool) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return false
	}

	if s.Manifest != nil && s.Manifest.ShouldForceDenyExec(resolved) {
		s.Reporter.ReportDeniedExec(int32(pid), resolved)
		return true
	}

	basename := basenameOf(resolved)
	s.Reporter.ReportExecPair(int32(pid), basename, resolved)

	s.handoffToPtraceIfNeeded(pid, resolved, basename)
	return false
}

func basenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// handoffToPtraceIfNeeded decides whether the about-to-be-exec'd target
// needs the ptrace fallback (forced by basename, unconditional, or the
// static-link probe) and, if so, installs the trace filter and announces
// the handoff before returning, so the caller's subsequent real exec is
// already being watched for by the tracer daemon.
func (s *Shims) handoffToPtraceIfNeeded(pid int, resolved, basename string) {
	if s.Manifest == nil || !s.Manifest.PtraceEnabled() {
		return
	}

	needsPtrace := s.Manifest.ShouldForcePtrace(basename) || s.Manifest.PtraceUnconditional()
	if !needsPtrace && s.Static != nil {
		isStatic, err := s.Static.IsStaticallyLinked(resolved)
		if err != nil {
			return
		}
		needsPtrace = isStatic
	}
	if !needsPtrace {
		return
	}

	s.Reporter.ReportStaticallyLinkedProcess(int32(pid), resolved)

	if s.InstallSeccomp == nil || s.OpenMQ == nil {
		return
	}
	prog, err := tracer.BuildTraceFilter(tracer.TracedSyscalls)
	if err != nil {
		return
	}
	if err := s.InstallSeccomp(prog); err != nil {
		return
	}

	mq, err := s.OpenMQ(s.Manifest.PtraceMQName)
	if err != nil {
		return
	}
	defer mq.Close()

	msg := tracerhandoff.FormatStart(tracerhandoff.StartMessage{
		Pid:          pid,
		Ppid:         os.Getppid(),
		ExePath:      resolved,
		ManifestPath: s.ManifestPath,
	})
	if err := mq.Send(msg); err != nil {
		return
	}

	if s.Sleep != nil {
		s.Sleep(ptraceHandoffSleep)
	}
}

// OpenForRead models open/openat/fopen/open64 when the flags don't signal a
// write-mode open: the event is reported as a plain `open`, downgraded from
// `read` unless O_CREAT or O_TRUNC accompany a write mode (see OpenForWrite).
func (s *Shims) OpenForRead(pid, dirfd int, rawPath string, flags OpenFlags) {
	if s.isWriteOpen(flags) {
		s.OpenForWrite(pid, dirfd, rawPath, flags, false)
		return
	}
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpOpen, Path: resolved,
		RequestedAccess: manifestfmt.AccessRead, IsFileBacked: true,
	})
}

func (s *Shims) isWriteOpen(flags OpenFlags) bool {
	writeMode := flags&OWronly != 0 || flags&ORdwr != 0
	return writeMode && (flags&OCreat != 0 || flags&OTrunc != 0)
}

// OpenForWrite models open(...O_WRONLY|O_RDWR with O_CREAT/O_TRUNC) and
// creat(): `create` if the target didn't already exist, else `write`, plus
// the one-shot first-allow-write-check side report.
func (s *Shims) OpenForWrite(pid, dirfd int, rawPath string, flags OpenFlags, existed bool) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return
	}
	op := manifestfmt.OpCreate
	if existed {
		op = manifestfmt.OpWrite
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: op, Path: resolved,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
	s.Reporter.FirstAllowWriteCheck(int32(pid), resolved, existed)
}

// Stat models stat/lstat/fstatat/statx. noFollow should be true for lstat
// and for fstatat/statx called with AT_SYMLINK_NOFOLLOW.
func (s *Shims) Stat(pid, dirfd int, rawPath string, noFollow bool) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, noFollow)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpStat, Path: resolved,
		RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true,
	})
}

// Access models access/faccessat/euidaccess.
func (s *Shims) Access(pid, dirfd int, rawPath string) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpAccess, Path: resolved,
		RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true,
	})
}

// WriteContent models write/writev/pwrite*/sendfile/copy_file_range: these
// are keyed purely by fd, since the path was already reported at open time.
func (s *Shims) WriteContent(pid, fd int) {
	path, ok := s.FDs.Get(fd)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpWrite, Path: path,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Truncate models truncate(path) and ftruncate(fd); pass rawPath == "" for
// the fd form and the fd's cached path is used instead.
func (s *Shims) Truncate(pid, dirfd, fd int, rawPath string) {
	var path string
	if rawPath != "" {
		resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
		if !ok {
			return
		}
		path = resolved
	} else {
		p, ok := s.FDs.Get(fd)
		if !ok {
			return
		}
		path = p
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpTruncate, Path: path,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Mkdir, Rmdir, Unlink, Link, Symlink and Mknod are the rest of the
// dir-mutate family; Rename is handled separately below because it emits a
// report pair instead of a single event.

func (s *Shims) Mkdir(pid, dirfd int, rawPath string) {
	s.reportDirMutate(pid, dirfd, rawPath, manifestfmt.OpMkdir)
}

func (s *Shims) Rmdir(pid, dirfd int, rawPath string) {
	s.reportDirMutate(pid, dirfd, rawPath, manifestfmt.OpRmdir)
}

func (s *Shims) Unlink(pid, dirfd int, rawPath string) {
	s.reportDirMutate(pid, dirfd, rawPath, manifestfmt.OpUnlink)
}

func (s *Shims) Mknod(pid, dirfd int, rawPath string) {
	s.reportDirMutate(pid, dirfd, rawPath, manifestfmt.OpMknod)
}

func (s *Shims) reportDirMutate(pid, dirfd int, rawPath string, op manifestfmt.OpCode) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: op, Path: resolved,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Link models link/linkat: both paths are real filesystem locations.
func (s *Shims) Link(pid, olddirfd, newdirfd int, oldPath, newPath string) {
	oldResolved, ok1 := s.resolve(pid, s.dirPath(olddirfd), oldPath, false)
	newResolved, ok2 := s.resolve(pid, s.dirPath(newdirfd), newPath, false)
	if !ok1 || !ok2 {
		return
	}
	s.Reporter.ReportUncached(access.Event{Pid: int32(pid), Op: manifestfmt.OpLink, Path: oldResolved, RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true})
	s.Reporter.ReportUncached(access.Event{Pid: int32(pid), Op: manifestfmt.OpLink, Path: newResolved, RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true})
}

// Symlink models symlink/symlinkat. Only the new link path is a real
// filesystem location; the target string is opaque to the kernel and is
// not itself reported.
func (s *Shims) Symlink(pid, newdirfd int, newPath string) {
	resolved, ok := s.resolve(pid, s.dirPath(newdirfd), newPath, false)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpSymlink, Path: resolved,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Rename models rename/renameat/renameat2. isDirectory marks the source as
// a directory; per the deliberately preserved double-bookkeeping quirk, a
// directory rename also re-emits the pair once per descendant, found by
// walking the pre-rename tree rooted at the source path.
func (s *Shims) Rename(pid, olddirfd, newdirfd int, oldPath, newPath string, isDirectory bool) {
	oldResolved, ok1 := s.resolve(pid, s.dirPath(olddirfd), oldPath, false)
	newResolved, ok2 := s.resolve(pid, s.dirPath(newdirfd), newPath, false)
	if !ok1 || !ok2 {
		return
	}
	var children []direnum.Entry
	if isDirectory {
		children = direnum.Children(oldResolved)
	}
	s.Reporter.ReportRename(int32(pid), oldResolved, newResolved, isDirectory)
	for _, child := range children {
		s.Reporter.ReportRename(int32(pid), oldResolved+"/"+child.RelPath, newResolved+"/"+child.RelPath, child.IsDir)
	}
}

// Readlink models readlink/readlinkat directly (as opposed to the implicit
// readlink reports Normalize emits for intermediate symlink components):
// the final component itself is the thing being read, so NoFollow applies.
func (s *Shims) Readlink(pid, dirfd int, rawPath string) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, true)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpReadlink, Path: resolved,
		RequestedAccess: manifestfmt.AccessRead, IsFileBacked: true,
	})
}

// Chmod models chmod/fchmod/fchmodat. rawPath == "" selects the fd form.
func (s *Shims) Chmod(pid, dirfd, fd int, rawPath string) {
	s.reportPerm(pid, dirfd, fd, rawPath, manifestfmt.OpSetMode, false)
}

// Chown models chown/fchown/lchown/fchownat. noFollow should be true only
// for lchown.
func (s *Shims) Chown(pid, dirfd, fd int, rawPath string, noFollow bool) {
	s.reportPerm(pid, dirfd, fd, rawPath, manifestfmt.OpSetOwner, noFollow)
}

func (s *Shims) reportPerm(pid, dirfd, fd int, rawPath string, op manifestfmt.OpCode, noFollow bool) {
	var path string
	if rawPath != "" {
		resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, noFollow)
		if !ok {
			return
		}
		path = resolved
	} else {
		p, ok := s.FDs.Get(fd)
		if !ok {
			return
		}
		path = p
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: op, Path: path,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Utime models utime/utimes/utimensat/futimesat.
func (s *Shims) Utime(pid, dirfd int, rawPath string) {
	resolved, ok := s.resolve(pid, s.dirPath(dirfd), rawPath, false)
	if !ok {
		return
	}
	s.Reporter.Report(access.Event{
		Pid: int32(pid), Op: manifestfmt.OpSetTime, Path: resolved,
		RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true,
	})
}

// Fork models fork/vfork/clone/_Fork: clone's flags decide upstream whether
// a new process actually resulted (CLONE_THREAD does not), so this is only
// called once that decision has already been made.
func (s *Shims) Fork(parentPid, childPid int) {
	s.Reporter.ReportFork(int32(parentPid), int32(childPid))
}

// Exit models exit/exit_group/_exit.
func (s *Shims) Exit(pid int, status int) {
	s.Reporter.ReportExit(int32(pid), int32(status))
}
