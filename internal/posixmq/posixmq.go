//go:build linux

// Package posixmq wraps the Linux POSIX message queue syscalls the ptrace
// handoff needs: a statically-linked child signals the tracer daemon by
// sending a short string on a named queue, and the daemon's single reader
// goroutine blocks on mq_timedreceive for new work.
//
// golang.org/x/sys/unix does not expose mq_open/mq_timedsend/mq_timedreceive
// as typed wrappers, so this package calls them by their raw amd64 syscall
// numbers, the same way internal/tracer already decodes ptrace registers by
// their x86_64 ABI positions rather than through a higher-level wrapper.
package posixmq

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux/amd64 syscall numbers for the mqueue family (arch/x86/entry/syscalls/syscall_64.tbl).
const (
	sysMqOpen          = 240
	sysMqUnlink        = 241
	sysMqTimedsend     = 242
	sysMqTimedreceive  = 243
	defaultQueuePerm   = 0o600
	defaultReceiveSize = 8192 // matches the kernel's default msgsize_max for an unprivileged mq_open
)

// Queue is one open descriptor onto a named POSIX message queue. It is not
// safe for concurrent Send/Receive calls from multiple goroutines sharing
// the same Queue value; callers needing that should open one Queue per
// goroutine, the way mqd_t is normally used per-thread.
type Queue struct {
	fd int
}

// normalizeName applies the one POSIX mq naming rule callers are likely to
// forget: the name must start with "/" and contain no other slash.
func normalizeName(name string) string {
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// Open opens (or, if create is true, creates) the named queue for
// read/write. A manifest-supplied queue name is expected to already exist
// (created by the tracer daemon on startup), so producers call Open with
// create == false.
func Open(name string, create bool) (*Queue, error) {
	cname, err := unix.BytePtrFromString(normalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("posixmq: invalid queue name %q: %w", name, err)
	}

	flags := unix.O_RDWR
	if create {
		flags |= unix.O_CREAT
	}

	fd, _, errno := unix.Syscall6(sysMqOpen,
		uintptr(unsafe.Pointer(cname)),
		uintptr(flags),
		uintptr(defaultQueuePerm),
		0, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("posixmq: mq_open %q: %w", name, errno)
	}
	return &Queue{fd: int(fd)}, nil
}

// Send blocks until msg is enqueued, mirroring mq_send's unbounded wait
// (mq_timedsend with a nil abs_timeout behaves identically to mq_send).
// Every message the tracer handoff exchanges is pipe-delimited ASCII well
// under the kernel's default message-size limit.
func (q *Queue) Send(msg string) error {
	b := []byte(msg)
	if len(b) == 0 {
		b = []byte{0}
	}
	_, _, errno := unix.Syscall6(sysMqTimedsend,
		uintptr(q.fd),
		uintptr(unsafe.Pointer(&b[0])),
		uintptr(len(b)),
		0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("posixmq: mq_send: %w", errno)
	}
	return nil
}

// Receive blocks until a message arrives and returns its payload.
func (q *Queue) Receive() (string, error) {
	buf := make([]byte, defaultReceiveSize)
	n, _, errno := unix.Syscall6(sysMqTimedreceive,
		uintptr(q.fd),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0, 0, 0)
	if errno != 0 {
		return "", fmt.Errorf("posixmq: mq_receive: %w", errno)
	}
	return string(buf[:n]), nil
}

// Close releases the descriptor. Linux implements POSIX message queue
// descriptors as ordinary file descriptors, so closing is just close(2).
func (q *Queue) Close() error {
	return unix.Close(q.fd)
}

// Unlink removes a queue's name from the system, matching mq_unlink. The
// daemon calls this on clean shutdown; a queue left behind after a crash is
// harmless and is recreated on the daemon's next Open(create: true).
func Unlink(name string) error {
	cname, err := unix.BytePtrFromString(normalizeName(name))
	if err != nil {
		return fmt.Errorf("posixmq: invalid queue name %q: %w", name, err)
	}
	_, _, errno := unix.Syscall(sysMqUnlink, uintptr(unsafe.Pointer(cname)), 0, 0)
	if errno != 0 {
		return fmt.Errorf("posixmq: mq_unlink %q: %w", name, errno)
	}
	return nil
}
