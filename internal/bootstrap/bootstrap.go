// Package bootstrap owns the environment variables every hooked process
// reads on first call and re-injects on exec*: the manifest path, the
// preload library path (for re-injection), the root-pid marker, and the
// ptrace handoff variables. It also runs the atexit-equivalent flush that
// emits the process-tree-completed report for the root pip.
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Use-Tusk/buildsentry/internal/access"
	"github.com/Use-Tusk/buildsentry/internal/buildlog"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

const (
	EnvPreload     = "LD_PRELOAD"
	EnvManifest    = manifest.EnvManifestPath
	EnvDetours     = "BXL_DETOURS_PATH"
	EnvRootPid     = "BXL_ROOT_PID"
	EnvPtraceMQ    = "BXL_PTRACE_MQ_NAME"
	EnvPtraceForce = "BXL_PTRACE_FORCED"
)

// RootPidInherit and RootPidSelf are the two sentinel values BXL_ROOT_PID
// can carry besides a concrete positive pid.
const (
	RootPidInherit = -1
	RootPidSelf    = 1
)

// Process is the per-process bootstrap state: the parsed manifest and
// whether this process is the tree's root. Flush is guarded so it only
// ever runs once even if the caller defers it from more than one place.
type Process struct {
	Manifest *manifest.Manifest
	Reporter *access.Reporter
	IsRoot   bool

	once sync.Once
}

// Init parses BXL_ROOT_PID and the manifest named by BXL_FAM_PATH. Any
// failure here is fatal: a child running unmonitored would produce no
// reports and the build would cache a wrong result.
func Init(reporter *access.Reporter) *Process {
	m, err := manifest.Load()
	if err != nil {
		buildlog.Fatalf("bootstrap: %v", err)
	}

	rootPid := os.Getenv(EnvRootPid)
	isRoot := rootPid == "" || rootPid == strconv.Itoa(RootPidSelf)

	return &Process{Manifest: m, Reporter: reporter, IsRoot: isRoot}
}

// Flush runs the atexit-equivalent handler. Only the root pip emits
// process-tree-completed; descendants call this too (for symmetry with a
// real atexit handler) but it is a no-op for them.
func (p *Process) Flush(pid int32) {
	p.once.Do(func() {
		if !p.IsRoot {
			return
		}
		p.Reporter.ReportUncached(access.Event{
			Pid: pid,
			Op:  manifestfmt.OpProcessTreeCompleted,
		})
	})
}

// PrepareChildEnv computes the environment an exec* shim should install
// before calling the real exec symbol. monitorChildren mirrors
// Manifest.IsMonitoringChildren(): when false, every observer-specific
// variable is stripped so the new program runs unmonitored; when true, the
// preload variable is appended to (never replacing an existing
// LD_PRELOAD, so other preloads installed ahead of this one survive) and
// the manifest/ptrace variables are force-set. manifestPath is the current
// process's own BXL_FAM_PATH value, forwarded unchanged to the child.
func PrepareChildEnv(env []string, manifestPath string, m *manifest.Manifest, monitorChildren bool) []string {
	stripped := stripObserverVars(env, m.PreloadLibraryPath)
	if !monitorChildren {
		return stripped
	}

	out := appendPreload(stripped, m.PreloadLibraryPath)
	out = setVar(out, EnvManifest, manifestPath)
	out = setVar(out, EnvDetours, m.PreloadLibraryPath)
	out = setVar(out, EnvRootPid, strconv.Itoa(RootPidInherit))
	if m.PtraceEnabled() {
		out = setVar(out, EnvPtraceMQ, m.PtraceMQName)
		out = setVar(out, EnvPtraceForce, strings.Join(m.ForcedPtraceBasenames(), ";"))
	}
	return out
}

// stripObserverVars removes every observer-specific variable from env, plus
// just this observer's own entry from LD_PRELOAD (leaving any other
// preloaded libraries untouched).
func stripObserverVars(env []string, ourLibPath string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case EnvManifest, EnvDetours, EnvRootPid, EnvPtraceMQ, EnvPtraceForce:
			continue
		case EnvPreload:
			if remaining := removePreloadEntry(value, ourLibPath); remaining != "" {
				out = append(out, EnvPreload+"="+remaining)
			}
			continue
		}
		out = append(out, kv)
	}
	return out
}

// removePreloadEntry drops ourLibPath from a colon-separated LD_PRELOAD
// value, preserving the order and presence of every other entry.
func removePreloadEntry(value, ourLibPath string) string {
	parts := strings.Split(value, ":")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" && p != ourLibPath {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

func appendPreload(env []string, libPath string) []string {
	for i, kv := range env {
		if !strings.HasPrefix(kv, EnvPreload+"=") {
			continue
		}
		existing := kv[len(EnvPreload)+1:]
		if hasPreloadEntry(existing, libPath) {
			return env
		}
		if existing == "" {
			env[i] = EnvPreload + "=" + libPath
		} else {
			env[i] = EnvPreload + "=" + existing + ":" + libPath
		}
		return env
	}
	return append(env, EnvPreload+"="+libPath)
}

func hasPreloadEntry(value, libPath string) bool {
	for _, p := range strings.Split(value, ":") {
		if p == libPath {
			return true
		}
	}
	return false
}

func setVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
