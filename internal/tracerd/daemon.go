//go:build linux

// Package tracerd is the consumer side of the ptrace handoff: it listens on
// the POSIX message queue named in the manifest for start messages a
// statically-linked child announces itself with, and for each one drives a
// tracer.Tracer through Seize+Run until that tracee's whole process tree has
// exited. Rather than forking one OS process per tracee tree, this daemon
// runs one goroutine per tree; the tracerPid an exitNotification carries is
// the tree's root tracee pid, since there's no separate tracer process to
// name.
package tracerd

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Use-Tusk/buildsentry/internal/access"
	"github.com/Use-Tusk/buildsentry/internal/eventcache"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/internal/pathresolve"
	"github.com/Use-Tusk/buildsentry/internal/policy"
	"github.com/Use-Tusk/buildsentry/internal/posixmq"
	"github.com/Use-Tusk/buildsentry/internal/report"
	"github.com/Use-Tusk/buildsentry/internal/staticlink"
	"github.com/Use-Tusk/buildsentry/internal/tracer"
	"github.com/Use-Tusk/buildsentry/internal/tracerhandoff"
)

// Queue is the subset of posixmq.Queue the daemon needs, kept as an
// interface so tests can drive the receive loop without a real mqueue.
type Queue interface {
	Receive() (string, error)
	Send(msg string) error
	Close() error
}

// Seizer is the subset of tracer.Tracer the daemon drives per tracee tree.
type Seizer interface {
	Seize(pid int) error
	Run() error
}

// Daemon owns the handoff queue and spawns one tracer per incoming start
// message. NewTracer defaults to building a real tracer.Tracer from the
// manifest a start message names; tests override it to avoid touching
// ptrace.
type Daemon struct {
	Log *logrus.Logger

	NewTracer func(m *manifest.Manifest) (Seizer, error)

	openQueue func(name string, create bool) (Queue, error)
}

// New builds a daemon with the production tracer and queue wiring. Run opens
// its queue with create set, mirroring the daemon's role as the queue's sole
// owner: it creates the queue if absent so a producer started first doesn't
// fail to Open it.
func New(log *logrus.Logger) *Daemon {
	return &Daemon{
		Log: log,
		NewTracer: func(m *manifest.Manifest) (Seizer, error) {
			resolver := pathresolve.New(pathresolve.OSFilesystem{})
			static := staticlink.New(staticlink.NewExecRunner())
			reporter := &access.Reporter{
				Engine:  policy.New(m),
				Cache:   eventcache.New(),
				Writer:  report.New(m.ReportPipePath, nil),
				PipID:   m.PipID,
				RootPid: m.PidOfRootProcess,
				FatalOnOversize: func(err error) {
					log.Errorf("tracerd: report writer: %v", err)
				},
			}
			return tracer.New(m, reporter, resolver, static), nil
		},
		openQueue: func(name string, create bool) (Queue, error) {
			return posixmq.Open(name, create)
		},
	}
}

// Run opens (creating if needed) the named queue and blocks, dispatching one
// goroutine per start message, until Receive returns an error (queue closed
// out from under it, or the process is being torn down).
func (d *Daemon) Run(queueName string) error {
	q, err := d.openQueue(queueName, true)
	if err != nil {
		return fmt.Errorf("tracerd: open queue %q: %w", queueName, err)
	}
	defer q.Close()

	for {
		msg, err := q.Receive()
		if err != nil {
			return fmt.Errorf("tracerd: receive: %w", err)
		}
		start, ok := tracerhandoff.ParseStart(msg)
		if !ok {
			d.Log.Debugf("tracerd: ignoring malformed queue message %q", msg)
			continue
		}
		go d.handleStart(queueName, start)
	}
}

// handleStart loads the manifest the start message names, seizes the
// announced pid, and runs the tracer to completion, notifying the queue
// with the tree's root pid once every tracee in it has exited.
func (d *Daemon) handleStart(queueName string, start tracerhandoff.StartMessage) {
	m, err := manifest.LoadFromPath(start.ManifestPath)
	if err != nil {
		d.Log.Errorf("tracerd: load manifest %q for pid %d: %v", start.ManifestPath, start.Pid, err)
		return
	}

	t, err := d.NewTracer(m)
	if err != nil {
		d.Log.Errorf("tracerd: build tracer for pid %d: %v", start.Pid, err)
		return
	}

	if err := t.Seize(start.Pid); err != nil {
		d.Log.Errorf("tracerd: seize pid %d: %v", start.Pid, err)
		return
	}

	if err := t.Run(); err != nil {
		d.Log.Errorf("tracerd: tracer for pid %d: %v", start.Pid, err)
	}

	d.notifyExit(queueName, start.Pid)
}

// notifyExit sends the exitNotification message back on the same queue. A
// failed send is logged and swallowed: the tree
// has already fully reported, so a dropped notification only affects
// whatever external reaper was waiting to hear about this tracer's pid.
func (d *Daemon) notifyExit(queueName string, tracerPid int) {
	q, err := d.openQueue(queueName, false)
	if err != nil {
		d.Log.Debugf("tracerd: open queue %q for exit notification: %v", queueName, err)
		return
	}
	defer q.Close()

	if err := q.Send(tracerhandoff.FormatExitNotification(tracerPid)); err != nil {
		d.Log.Debugf("tracerd: send exit notification for pid %d: %v", tracerPid, err)
	}
}
