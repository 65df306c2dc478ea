package manifestfmt

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// RequestedAccess is a bitset describing what a syscall wanted to do to a
// path; it is folded against a ScopePolicy's allow bits by the access-policy
// engine to produce a Status.
type RequestedAccess uint8

const (
	AccessRead RequestedAccess = 1 << iota
	AccessWrite
	AccessProbe // stat/access/readlink style "does it exist" checks
)

func (r RequestedAccess) String() string {
	var parts []string
	if r&AccessRead != 0 {
		parts = append(parts, "read")
	}
	if r&AccessWrite != 0 {
		parts = append(parts, "write")
	}
	if r&AccessProbe != 0 {
		parts = append(parts, "probe")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Status is the policy engine's allow/deny verdict. Denial is advisory
// (§4.5): the syscall proceeds regardless, the supervisor decides whether to
// act on a denied report.
type Status uint8

const (
	StatusAllowed Status = iota
	StatusDenied
)

func (s Status) String() string {
	if s == StatusDenied {
		return "denied"
	}
	return "allowed"
}

// PipeBufSize is the Linux PIPE_BUF guarantee: a write of this size or less
// to a pipe is atomic. Every framed record must fit within it.
const PipeBufSize = 4096

// MaxPathLen bounds a single path field, mirroring MAXPATHLEN.
const MaxPathLen = 4096

// AccessReport is a single event observed by either the interposer or
// the ptrace tracer. It is always built on the stack/locally and
// discarded once written.
type AccessReport struct {
	Op               OpCode
	Pid              int32
	RootPid          int32
	PipID            uint64
	RequestedAccess  RequestedAccess
	Status           Status
	ReportExplicitly bool
	Errno            int32
	IsDirectory      bool
	Path             string
	ShouldReport     bool
	DebugMessage     bool
}

// AccessReportGroup holds the one or two reports a single syscall can
// produce — e.g. rename yields an unlink@src and a create@dst.
type AccessReportGroup struct {
	Reports []AccessReport
}

func (g *AccessReportGroup) Add(r AccessReport) {
	g.Reports = append(g.Reports, r)
}

// escapeField replaces the record and field delimiters that would otherwise
// corrupt the pipe-delimited payload: '|' -> '!', '\n'/'\r' -> '.'.
func escapeField(s string) string {
	if !strings.ContainsAny(s, "|\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '|':
			b.WriteByte('!')
		case '\n', '\r':
			b.WriteByte('.')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EncodePayload renders the pipe-delimited record:
//
//	op|pid|rootPid|requestedAccess|status|reportExplicitly|error|pipId|isDirectory|path
//
// The returned bytes do not include the length prefix; Frame adds that.
func EncodePayload(r AccessReport) []byte {
	fields := []string{
		r.Op.String(),
		strconv.Itoa(int(r.Pid)),
		strconv.Itoa(int(r.RootPid)),
		strconv.Itoa(int(r.RequestedAccess)),
		r.Status.String(),
		boolField(r.ReportExplicitly),
		strconv.Itoa(int(r.Errno)),
		strconv.FormatUint(r.PipID, 10),
		boolField(r.IsDirectory),
		escapeField(r.Path),
	}
	return []byte(strings.Join(fields, "|") + "\n")
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Frame wraps a payload with the little-endian u32 length prefix used over
// the wire. It returns an error if the framed message would exceed
// PIPE_BUF, since the whole point of the prefix+single-write scheme is
// atomicity on Linux pipes.
func Frame(payload []byte) ([]byte, error) {
	total := 4 + len(payload)
	if total > PipeBufSize {
		return nil, fmt.Errorf("manifestfmt: framed record of %d bytes exceeds PIPE_BUF (%d)", total, PipeBufSize)
	}
	buf := make([]byte, 0, total)
	var lenBytes [4]byte
	putUint32LE(lenBytes[:], uint32(len(payload)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// TruncateForDebug shortens a debug payload so it fits PIPE_BUF instead of
// aborting the process — debug reports are the one kind allowed to lose
// information rather than crash the pip.
func TruncateForDebug(payload []byte) []byte {
	max := PipeBufSize - 4 - 1 // leave room for length prefix + trailing '\n'
	if len(payload) <= max {
		return payload
	}
	trimmed := payload[:max]
	return append(bytes.TrimRight(trimmed, "\n"), '\n')
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
