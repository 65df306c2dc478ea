// Package policy implements the access-policy engine: given an event, a
// normalized path, and the requested access, it computes whether the access
// is allowed and whether it should be reported at all.
package policy

import (
	"sync"

	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// Decision is the engine's verdict for one event. ShouldReport decides
// whether the event reaches the transport at all; ReportExplicitly carries
// the scope's own reportExplicitly bit onto the wire record and is
// independent of why ShouldReport ended up true.
type Decision struct {
	Status           manifestfmt.Status
	ShouldReport     bool
	ReportExplicitly bool
}

// Engine evaluates accesses against one process's manifest. It also owns the
// per-process "first write to P" side-check state.
type Engine struct {
	m *manifest.Manifest

	mu          sync.Mutex
	firstWrites map[string]bool
}

func New(m *manifest.Manifest) *Engine {
	return &Engine{m: m, firstWrites: make(map[string]bool)}
}

// Evaluate folds the scope's allow bits against requested and decides
// whether the event should be reported at all.
//
// isFileBacked must be false for descriptors the caller has determined are
// not regular files/directories (pipes, sockets, devices, detected via
// S_IFMT) — those short-circuit to "no report".
func (e *Engine) Evaluate(op manifestfmt.OpCode, path string, requested manifestfmt.RequestedAccess, isFileBacked bool) Decision {
	if !isFileBacked {
		return Decision{Status: manifestfmt.StatusAllowed, ShouldReport: false}
	}

	scope := e.m.Lookup(path)
	reportExplicitly := scope.ReportExplicitly

	allowed := true
	if requested&manifestfmt.AccessRead != 0 && !scope.AllowRead {
		allowed = false
	}
	if requested&manifestfmt.AccessWrite != 0 && !scope.AllowWrite {
		allowed = false
	}
	if requested&manifestfmt.AccessProbe != 0 && !scope.AllowProbe {
		allowed = false
	}

	status := manifestfmt.StatusAllowed
	if !allowed {
		status = manifestfmt.StatusDenied
	}

	shouldReport := reportExplicitly || !e.m.Flags.Has(manifestfmt.FlagReportFileAccessesOnly) || requested&manifestfmt.AccessWrite != 0 || requested&manifestfmt.AccessRead != 0

	return Decision{Status: status, ShouldReport: shouldReport, ReportExplicitly: reportExplicitly}
}

// FirstAllowWriteCheck emits the one-shot decision for the first write ever
// observed against path in this process. existed reports whether the path
// already had content before this write (the caller stats the path just
// before performing the syscall); the supervisor uses this report to
// distinguish creation from modification.
//
// The second bool return is false on every call after the first for a given
// path — the caller should skip emitting the report entirely in that case.
func (e *Engine) FirstAllowWriteCheck(path string, existed bool) (status manifestfmt.Status, emit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.firstWrites[path] {
		return manifestfmt.StatusAllowed, false
	}
	e.firstWrites[path] = true

	if existed {
		return manifestfmt.StatusDenied, true
	}
	return manifestfmt.StatusAllowed, true
}
