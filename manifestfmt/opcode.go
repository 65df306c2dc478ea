// Package manifestfmt defines the wire formats shared by every producer and
// consumer of access reports: the compiled access manifest, the framed
// report record written to the FIFO, and the event-class coalescing
// rules consulted by the event cache.
package manifestfmt

// OpCode names one of the access-report event kinds. Both the libc
// interposer and the ptrace tracer emit the same set of op codes so the
// supervisor cannot tell which path produced a given report.
type OpCode uint8

const (
	OpUnknown OpCode = iota

	OpExec
	OpOpen
	OpRead
	OpWrite
	OpCreate
	OpUnlink
	OpRenameSource
	OpRenameDest
	OpReadlink
	OpStat
	OpAccess
	OpSetMode
	OpSetOwner
	OpSetTime
	OpLink
	OpSymlink
	OpMkdir
	OpRmdir
	OpMknod
	OpTruncate
	OpFork
	OpExit
	OpDebug
	OpFirstAllowWriteCheck
	OpStaticallyLinkedProcess
	OpProcessTreeCompleted
)

var opNames = map[OpCode]string{
	OpUnknown:                 "unknown",
	OpExec:                    "exec",
	OpOpen:                    "open",
	OpRead:                    "read",
	OpWrite:                   "write",
	OpCreate:                  "create",
	OpUnlink:                  "unlink",
	OpRenameSource:            "rename-source",
	OpRenameDest:              "rename-dest",
	OpReadlink:                "readlink",
	OpStat:                    "stat",
	OpAccess:                  "access",
	OpSetMode:                 "setmode",
	OpSetOwner:                "setowner",
	OpSetTime:                 "settime",
	OpLink:                    "link",
	OpSymlink:                 "symlink",
	OpMkdir:                   "mkdir",
	OpRmdir:                   "rmdir",
	OpMknod:                   "mknod",
	OpTruncate:                "truncate",
	OpFork:                    "fork",
	OpExit:                    "exit",
	OpDebug:                   "debug",
	OpFirstAllowWriteCheck:    "first-allow-write-check",
	OpStaticallyLinkedProcess: "statically-linked-process",
	OpProcessTreeCompleted:    "process-tree-completed",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// EventClass is the coalescing key the event cache groups ops by.
// Related events that should dedupe against each other share a class.
type EventClass uint8

const (
	ClassStandalone EventClass = iota
	ClassWrite
	ClassStat
)

// Coalesce returns the event class used as the cache key for op, and
// whether the op participates in caching at all. Ops that carry two paths
// (rename, link), plus fork/exec/exit, bypass the cache unconditionally.
func Coalesce(op OpCode) (class EventClass, cacheable bool) {
	switch op {
	case OpTruncate, OpSetMode, OpSetOwner, OpSetTime, OpWrite:
		return ClassWrite, true
	case OpStat, OpAccess:
		return ClassStat, true
	case OpRenameSource, OpRenameDest, OpLink, OpSymlink,
		OpFork, OpExit, OpExec, OpDebug:
		return ClassStandalone, false
	default:
		return ClassStandalone, true
	}
}
