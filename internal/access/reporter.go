// Package access is the shared policy+serializer module: the libc shim and
// the ptrace syscall-handler table both drive the same cache, policy engine,
// and transport so the two paths produce byte-identical records. Everything
// here is pure Go with no ptrace or libc dependency, so both callers can
// share it verbatim.
package access

import (
	"strconv"

	"github.com/Use-Tusk/buildsentry/internal/eventcache"
	"github.com/Use-Tusk/buildsentry/internal/policy"
	"github.com/Use-Tusk/buildsentry/internal/report"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// Reporter ties the event cache, the policy engine, and the
// report transport together behind the single call each interposer
// shim or tracer syscall handler needs to make.
type Reporter struct {
	Engine  *policy.Engine
	Cache   *eventcache.Cache
	Writer  *report.Writer
	PipID   uint64
	RootPid int32
	// FatalOnOversize is called when a non-debug report doesn't fit
	// PIPE_BUF. Left as a callback instead of calling buildlog.Fatalf
	// directly so tests can observe the call instead of exiting the test
	// binary.
	FatalOnOversize func(err error)
}

// Event describes one candidate report before policy/cache is applied.
type Event struct {
	Pid             int32
	Op              manifestfmt.OpCode
	Path            string
	RequestedAccess manifestfmt.RequestedAccess
	IsFileBacked    bool
	IsDirectory     bool
	Errno           int32
	Debug           bool
}

// Report runs one event through cache -> policy -> transport. A path
// normalization failure (empty path) or a cache hit silently suppresses the
// report rather than treating it as fatal.
func (r *Reporter) Report(e Event) {
	if e.Path == "" && !e.Debug {
		return
	}
	if r.Cache.Observe(e.Op, e.Path) {
		return
	}
	r.emit(e)
}

// ReportUncached bypasses the event cache entirely — used for rename/link
// (two-path events), fork, exec, and exit, none of which should ever be
// coalesced away.
func (r *Reporter) ReportUncached(e Event) {
	r.emit(e)
}

// processLifecycle ops describe the process tree itself, not a file
// access, so they are never subject to the scope policy's file-backed gate
// — fork/exit/debug always report.
func processLifecycle(op manifestfmt.OpCode) bool {
	switch op {
	case manifestfmt.OpFork, manifestfmt.OpExit, manifestfmt.OpDebug,
		manifestfmt.OpProcessTreeCompleted, manifestfmt.OpStaticallyLinkedProcess:
		return true
	default:
		return false
	}
}

func (r *Reporter) emit(e Event) {
	decision := policy.Decision{Status: manifestfmt.StatusAllowed, ShouldReport: true, ReportExplicitly: true}
	if !processLifecycle(e.Op) {
		decision = r.Engine.Evaluate(e.Op, e.Path, e.RequestedAccess, e.IsFileBacked)
		// Both reports of the exec pair are mandatory: the policy sets their
		// status but never drops either one.
		if e.Op == manifestfmt.OpExec {
			decision.ShouldReport = true
		}
	}
	if !decision.ShouldReport {
		return
	}

	rec := manifestfmt.AccessReport{
		Op:               e.Op,
		Pid:              e.Pid,
		RootPid:          r.RootPid,
		PipID:            r.PipID,
		RequestedAccess:  e.RequestedAccess,
		Status:           decision.Status,
		ReportExplicitly: decision.ReportExplicitly,
		Errno:            e.Errno,
		IsDirectory:      e.IsDirectory,
		Path:             e.Path,
		ShouldReport:     true,
		DebugMessage:     e.Debug,
	}

	if err := r.Writer.Emit(rec); err != nil {
		if r.FatalOnOversize != nil {
			r.FatalOnOversize(err)
		}
	}
}

// FirstAllowWriteCheck emits the one-shot write-existence report
// independent of the main event. existed is whatever the caller observed by
// stat'ing path immediately before the write syscall.
func (r *Reporter) FirstAllowWriteCheck(pid int32, path string, existed bool) {
	status, emit := r.Engine.FirstAllowWriteCheck(path, existed)
	if !emit {
		return
	}
	rec := manifestfmt.AccessReport{
		Op:      manifestfmt.OpFirstAllowWriteCheck,
		Pid:     pid,
		RootPid: r.RootPid,
		PipID:   r.PipID,
		Status:  status,
		Path:    path,
	}
	if err := r.Writer.Emit(rec); err != nil && r.FatalOnOversize != nil {
		r.FatalOnOversize(err)
	}
}

// ReportFork emits the fork report that must precede any other report
// carrying childPid. Pid is set to the child (every later report naming
// that pid must follow this one); the parent is recorded in Path since the
// wire format has no dedicated second-pid field.
func (r *Reporter) ReportFork(parentPid, childPid int32) {
	r.ReportUncached(Event{
		Pid:  childPid,
		Op:   manifestfmt.OpFork,
		Path: strconv.Itoa(int(parentPid)),
	})
}

// ReportExecPair emits the two mandatory exec reports in order: basename
// first, then the fully resolved path.
func (r *Reporter) ReportExecPair(pid int32, basename, resolvedPath string) {
	r.ReportUncached(Event{Pid: pid, Op: manifestfmt.OpExec, Path: basename, RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true})
	r.ReportUncached(Event{Pid: pid, Op: manifestfmt.OpExec, Path: resolvedPath, RequestedAccess: manifestfmt.AccessRead, IsFileBacked: true})
}

// ReportRename emits the unlink@src / create@dst pair a rename produces.
// When src is a directory, the caller enumerates its descendants (see
// internal/direnum) and calls this once per child too, in addition to the
// top-level pair — this just fixes the ordering and cache bypass for one
// path pair.
func (r *Reporter) ReportRename(pid int32, src, dst string, isDirectory bool) {
	r.ReportUncached(Event{Pid: pid, Op: manifestfmt.OpRenameSource, Path: src, RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true, IsDirectory: isDirectory})
	r.ReportUncached(Event{Pid: pid, Op: manifestfmt.OpRenameDest, Path: dst, RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true, IsDirectory: isDirectory})
}

// ReportExit emits the process-exit report; the supervisor infers build
// failure from a missing one.
func (r *Reporter) ReportExit(pid int32, errno int32) {
	r.ReportUncached(Event{Pid: pid, Op: manifestfmt.OpExit, Errno: errno})
}

// ReportDeniedExec emits an exec attempt as explicitly denied, independent
// of what the scope tree's read bits would otherwise allow: the manifest's
// forced-deny-exec list is a standalone override, not a scope policy, so
// this bypasses the policy engine entirely the same way
// FirstAllowWriteCheck constructs its own record.
func (r *Reporter) ReportDeniedExec(pid int32, resolvedPath string) {
	rec := manifestfmt.AccessReport{
		Op:              manifestfmt.OpExec,
		Pid:             pid,
		RootPid:         r.RootPid,
		PipID:           r.PipID,
		RequestedAccess: manifestfmt.AccessRead,
		Status:          manifestfmt.StatusDenied,
		Path:            resolvedPath,
		ShouldReport:    true,
	}
	if err := r.Writer.Emit(rec); err != nil && r.FatalOnOversize != nil {
		r.FatalOnOversize(err)
	}
}

// ReportStaticallyLinkedProcess emits the one-shot report the static-link
// detector produces when it decides a candidate executable needs the
// ptrace fallback instead of relying on LD_PRELOAD.
func (r *Reporter) ReportStaticallyLinkedProcess(pid int32, resolvedPath string) {
	r.ReportUncached(Event{
		Pid: pid, Op: manifestfmt.OpStaticallyLinkedProcess, Path: resolvedPath,
		RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true,
	})
}
