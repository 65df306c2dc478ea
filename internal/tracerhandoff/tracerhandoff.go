// Package tracerhandoff defines the two message shapes exchanged on the
// ptrace handoff's POSIX message queue: a statically-linked child announces
// itself with a start message before it sleeps and execs the real target,
// and a tracer announces its own termination once every tracee in its tree
// has exited. Kept pure string handling (no mqueue dependency) so both the
// producer side (internal/interpose) and the consumer side
// (internal/tracerd) parse/format identically without sharing a build tag.
package tracerhandoff

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kindStart            = "start"
	kindExitNotification = "exitNotification"
)

// StartMessage is a statically-linked child announcing itself to the tracer
// daemon, carrying everything the daemon needs to seize it and resolve
// paths against the right manifest.
type StartMessage struct {
	Pid          int
	Ppid         int
	ExePath      string
	ManifestPath string
}

// FormatStart renders the wire form: "start|<pid>|<ppid>|<exePath>|<manifestPath>".
func FormatStart(m StartMessage) string {
	return strings.Join([]string{
		kindStart,
		strconv.Itoa(m.Pid),
		strconv.Itoa(m.Ppid),
		m.ExePath,
		m.ManifestPath,
	}, "|")
}

// ParseStart decodes a start message, returning ok == false for anything
// that isn't a well-formed start message (including messages of a
// different kind).
func ParseStart(msg string) (StartMessage, bool) {
	parts := strings.SplitN(msg, "|", 5)
	if len(parts) != 5 || parts[0] != kindStart {
		return StartMessage{}, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return StartMessage{}, false
	}
	ppid, err := strconv.Atoi(parts[2])
	if err != nil {
		return StartMessage{}, false
	}
	return StartMessage{Pid: pid, Ppid: ppid, ExePath: parts[3], ManifestPath: parts[4]}, true
}

// FormatExitNotification renders "exitNotification|<tracerPid>".
func FormatExitNotification(tracerPid int) string {
	return fmt.Sprintf("%s|%d", kindExitNotification, tracerPid)
}

// ParseExitNotification decodes an exitNotification message.
func ParseExitNotification(msg string) (tracerPid int, ok bool) {
	parts := strings.SplitN(msg, "|", 2)
	if len(parts) != 2 || parts[0] != kindExitNotification {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}
