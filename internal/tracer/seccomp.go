//go:build linux

package tracer

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// prctl(2) option values this package needs (linux/x86_64 kernel ABI;
// not exposed by the stdlib syscall package).
const (
	prSetNoNewPrivs  = 38
	prSetSeccomp     = 22
	seccompModeFilter = 2
)

// TracedSyscalls are the filesystem-touching syscalls the seccomp
// trace-filter flags for PTRACE_EVENT_SECCOMP stops. The interposer's
// libc hook families name the entry points; these are the underlying
// syscalls those entry points funnel into on Linux/x86_64.
var TracedSyscalls = []string{
	"open", "openat", "openat2", "creat",
	"stat", "lstat", "fstat", "fstatat", "newfstatat", "statx",
	"access", "faccessat", "faccessat2",
	"read", "pread64", "readv", "preadv",
	"write", "pwrite64", "writev", "pwritev", "sendfile", "copy_file_range",
	"truncate", "ftruncate",
	"mkdir", "mkdirat", "rmdir",
	"unlink", "unlinkat",
	"rename", "renameat", "renameat2",
	"link", "linkat", "symlink", "symlinkat",
	"mknod", "mknodat",
	"readlink", "readlinkat",
	"chmod", "fchmod", "fchmodat",
	"chown", "fchown", "lchown", "fchownat",
	"utime", "utimes", "utimensat", "futimesat",
	"execve", "execveat",
	"fork", "vfork", "clone", "clone3",
	"exit", "exit_group",
}

// BuildTraceFilter assembles a seccomp-bpf program that returns
// SECCOMP_RET_TRACE for every syscall in names and SECCOMP_RET_ALLOW for
// everything else — the filter a pip installs via PR_SET_SECCOMP before
// sleeping and waiting to be seized.
func BuildTraceFilter(names []string) (*syscall.SockFprog, error) {
	policy := seccomp.Policy{
		DefaultAction: seccomp.ActionAllow,
		Syscalls: []seccomp.SyscallGroup{
			{
				Action: seccomp.ActionTrace,
				Names:  names,
			},
		},
	}

	insts, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("tracer: assemble seccomp policy: %w", err)
	}
	rawInsts, err := bpf.Assemble(insts)
	if err != nil {
		return nil, fmt.Errorf("tracer: assemble bpf: %w", err)
	}

	filter := make([]syscall.SockFilter, 0, len(rawInsts))
	for _, instruction := range rawInsts {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("tracer: empty seccomp filter")
	}
	return &syscall.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}, nil
}

// InstallTraceFilter installs prog as the calling process's seccomp filter,
// the step a statically-linked child takes on itself just before it
// announces on the tracer handoff queue and sleeps waiting to be seized.
// PR_SET_SECCOMP requires either CAP_SYS_ADMIN or NO_NEW_PRIVS, so this
// always sets NO_NEW_PRIVS first.
func InstallTraceFilter(prog *syscall.SockFprog) error {
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, prSetNoNewPrivs, 1, 0); errno != 0 {
		return fmt.Errorf("tracer: prctl(PR_SET_NO_NEW_PRIVS): %w", errno)
	}
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, prSetSeccomp, seccompModeFilter, uintptr(unsafe.Pointer(prog))); errno != 0 {
		return fmt.Errorf("tracer: prctl(PR_SET_SECCOMP): %w", errno)
	}
	return nil
}
