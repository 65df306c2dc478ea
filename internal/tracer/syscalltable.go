//go:build linux

package tracer

import (
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// syscallSpec describes where a traced syscall's path argument(s) and
// directory-fd argument(s) live among its six register-passed arguments,
// and what access/op the syscall implies. Argument indices are 0-based
// (0 == rdi); -1 means "not present".
type syscallSpec struct {
	op        manifestfmt.OpCode
	access    manifestfmt.RequestedAccess
	pathArg   int
	path2Arg  int
	dirfdArg  int
	dirfd2Arg int // directory fd for path2, when it differs from dirfdArg (renameat/linkat); -1 means reuse dirfdArg
	noFollow  bool
}

const noArg = -1

// syscallTable maps Linux/x86_64 syscall numbers to their path-argument
// layout. Only the syscalls named in TracedSyscalls appear here; numbers
// come from the amd64 syscall ABI (arch/x86/entry/syscalls/syscall_64.tbl).
var syscallTable = map[uint64]syscallSpec{
	2:   {op: manifestfmt.OpOpen, access: manifestfmt.AccessRead, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	257: {op: manifestfmt.OpOpen, access: manifestfmt.AccessRead, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	437: {op: manifestfmt.OpOpen, access: manifestfmt.AccessRead, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	85:  {op: manifestfmt.OpCreate, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},

	4:   {op: manifestfmt.OpStat, access: manifestfmt.AccessProbe, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	6:   {op: manifestfmt.OpStat, access: manifestfmt.AccessProbe, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg, noFollow: true},
	262: {op: manifestfmt.OpStat, access: manifestfmt.AccessProbe, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	332: {op: manifestfmt.OpStat, access: manifestfmt.AccessProbe, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	21:  {op: manifestfmt.OpAccess, access: manifestfmt.AccessProbe, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	269: {op: manifestfmt.OpAccess, access: manifestfmt.AccessProbe, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	439: {op: manifestfmt.OpAccess, access: manifestfmt.AccessProbe, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	76: {op: manifestfmt.OpTruncate, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	77: {op: manifestfmt.OpTruncate, access: manifestfmt.AccessWrite, pathArg: noArg, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg}, // ftruncate: fd only, no path argument to decode here

	83:  {op: manifestfmt.OpMkdir, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	258: {op: manifestfmt.OpMkdir, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	84:  {op: manifestfmt.OpRmdir, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},

	87:  {op: manifestfmt.OpUnlink, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	263: {op: manifestfmt.OpUnlink, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	82:  {op: manifestfmt.OpRenameSource, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: 1, dirfdArg: noArg, dirfd2Arg: noArg},
	264: {op: manifestfmt.OpRenameSource, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: 3, dirfdArg: 0, dirfd2Arg: 2},
	316: {op: manifestfmt.OpRenameSource, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: 3, dirfdArg: 0, dirfd2Arg: 2},

	86:  {op: manifestfmt.OpLink, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: 1, dirfdArg: noArg, dirfd2Arg: noArg},
	265: {op: manifestfmt.OpLink, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: 3, dirfdArg: 0, dirfd2Arg: 2},
	88:  {op: manifestfmt.OpSymlink, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg}, // symlink(target, linkpath): only linkpath is a real filesystem location
	266: {op: manifestfmt.OpSymlink, access: manifestfmt.AccessWrite, pathArg: 2, path2Arg: noArg, dirfdArg: 1, dirfd2Arg: noArg},

	133: {op: manifestfmt.OpMknod, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	259: {op: manifestfmt.OpMknod, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	89:  {op: manifestfmt.OpReadlink, access: manifestfmt.AccessRead, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg, noFollow: true},
	267: {op: manifestfmt.OpReadlink, access: manifestfmt.AccessRead, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg, noFollow: true},

	90:  {op: manifestfmt.OpSetMode, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	268: {op: manifestfmt.OpSetMode, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	92:  {op: manifestfmt.OpSetOwner, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	94:  {op: manifestfmt.OpSetOwner, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg, noFollow: true},
	260: {op: manifestfmt.OpSetOwner, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	132: {op: manifestfmt.OpSetTime, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	235: {op: manifestfmt.OpSetTime, access: manifestfmt.AccessWrite, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	280: {op: manifestfmt.OpSetTime, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
	261: {op: manifestfmt.OpSetTime, access: manifestfmt.AccessWrite, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},

	59:  {op: manifestfmt.OpExec, access: manifestfmt.AccessRead, pathArg: 0, path2Arg: noArg, dirfdArg: noArg, dirfd2Arg: noArg},
	322: {op: manifestfmt.OpExec, access: manifestfmt.AccessRead, pathArg: 1, path2Arg: noArg, dirfdArg: 0, dirfd2Arg: noArg},
}
