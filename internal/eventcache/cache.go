// Package eventcache implements the per-process dedup cache that compresses
// repeated (event-class, path) reports into a single emission. Most
// hot-loop programs stat the same files thousands of times; this cache
// turns 10^5-10^7 candidate reports into tens of actual pipe writes.
package eventcache

import (
	"time"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// lockTimeout is the best-effort try-lock window: on contention, the
// report is never suppressed, it is simply not deduplicated this one time.
const lockTimeout = time.Millisecond

type key struct {
	class manifestfmt.EventClass
	path  string
}

// Cache deduplicates (class, path) insertions within one process lifetime.
// It is explicitly NOT cleared on execve: the kernel's open-file and
// symlink state survived the exec, so a pip that execs a different binary
// into the same process can lose first-access reports for the new binary —
// a deliberately preserved quirk rather than a bug.
type Cache struct {
	mu   chan struct{} // 1-buffered channel used as a try-lock with timeout
	seen map[key]struct{}
}

func New() *Cache {
	c := &Cache{
		mu:   make(chan struct{}, 1),
		seen: make(map[key]struct{}),
	}
	c.mu <- struct{}{}
	return c
}

// Observe reports whether (op, path) has already been seen by this cache.
// It returns (alreadySeen=true) to tell the caller to suppress the report.
// Ops that don't participate in caching (rename, link, fork, exec, exit,
// debug) always return false (never suppress) per manifestfmt.Coalesce.
func (c *Cache) Observe(op manifestfmt.OpCode, path string) (alreadySeen bool) {
	class, cacheable := manifestfmt.Coalesce(op)
	if !cacheable {
		return false
	}

	select {
	case <-c.mu:
	case <-time.After(lockTimeout):
		// Contended: bypass the cache entirely rather than block the
		// intercepted syscall.
		return false
	}
	defer func() { c.mu <- struct{}{} }()

	k := key{class: class, path: path}
	if _, ok := c.seen[k]; ok {
		return true
	}
	c.seen[k] = struct{}{}
	return false
}
