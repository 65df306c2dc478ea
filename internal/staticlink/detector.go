// Package staticlink detects whether a candidate
// executable is statically linked, so the bootstrap/interposer can route it
// through the ptrace fallback instead of relying on LD_PRELOAD (which the
// dynamic loader never consults for a static binary).
package staticlink

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Runner abstracts invoking objdump so tests can fake its output without a
// real toolchain on PATH.
type Runner interface {
	Run(path string) (stdout string, err error)
}

// execRunner shells out to /usr/bin/objdump -p and inspects its program
// header output.
type execRunner struct{ objdumpPath string }

func NewExecRunner() Runner {
	return &execRunner{objdumpPath: "/usr/bin/objdump"}
}

func (r *execRunner) Run(path string) (string, error) {
	cmd := exec.Command(r.objdumpPath, "-p", path)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// cacheKey keys the decision to the binary's mtime, so an overwritten
// executable (e.g. rebuilt mid-build) gets re-probed instead of returning a
// stale verdict.
type cacheKey struct {
	mtimeSec int64
	path     string
}

// Detector decides whether a binary is statically linked by running the
// objdump probe and caching the verdict; it does not consult the manifest's
// forced-ptrace basenames (the caller checks those).
type Detector struct {
	runner Runner

	mu    sync.Mutex
	cache map[cacheKey]bool
}

func New(runner Runner) *Detector {
	return &Detector{runner: runner, cache: make(map[cacheKey]bool)}
}

// IsStaticallyLinked runs (or reuses the cached result of) the objdump
// probe: a binary is dynamically linked if objdump's program-header output
// contains both "Program Header:" and "NEEDED               libc.so.",
// otherwise it is considered static.
func (d *Detector) IsStaticallyLinked(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("staticlink: stat %s: %w", path, err)
	}

	key := cacheKey{mtimeSec: info.ModTime().Unix(), path: path}

	d.mu.Lock()
	if cached, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	out, err := d.runner.Run(path)
	if err != nil {
		return false, fmt.Errorf("staticlink: objdump %s: %w", path, err)
	}

	isStatic := !(strings.Contains(out, "Program Header:") && strings.Contains(out, "NEEDED               libc.so."))

	d.mu.Lock()
	d.cache[key] = isStatic
	d.mu.Unlock()

	return isStatic, nil
}
