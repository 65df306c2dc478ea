// Package report implements the framed, size-prefixed writer over the FIFO
// named in the manifest. Every record is opened, written in one write(2)
// call, and closed immediately, relying on PIPE_BUF atomicity so concurrent
// writer threads never interleave a single record.
package report

import (
	"errors"
	"os"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// ErrOversize is returned when a non-debug report would not fit in
// PIPE_BUF. The caller is expected to treat this as a fatal configuration
// error and abort the process; this package never calls os.Exit itself so
// it stays unit-testable.
var ErrOversize = errors.New("report: record exceeds PIPE_BUF")

// FDObserver lets the caller's FD table stay consistent with the descriptor
// this package allocates internally: the pipe fd is opened and closed
// within a single Emit call, so whatever number the kernel handed out must
// be purged from any cache keyed by fd.
type FDObserver func(fd int)

// Writer emits framed records to one FIFO path.
type Writer struct {
	path       string
	onFDReused FDObserver
}

func New(fifoPath string, onFDReused FDObserver) *Writer {
	return &Writer{path: fifoPath, onFDReused: onFDReused}
}

// Emit writes a single report. debugMessage controls overflow handling:
// non-debug reports that don't fit PIPE_BUF return ErrOversize; debug
// reports are truncated to fit instead.
func (w *Writer) Emit(r manifestfmt.AccessReport) error {
	payload := manifestfmt.EncodePayload(r)
	framed, err := manifestfmt.Frame(payload)
	if err != nil {
		if !r.DebugMessage {
			return ErrOversize
		}
		payload = manifestfmt.TruncateForDebug(payload)
		framed, err = manifestfmt.Frame(payload)
		if err != nil {
			return err
		}
	}
	return w.writeFramed(framed)
}

// EmitGroup writes every report in a group in order (e.g. rename's
// unlink@src then create@dst). It stops at the first error.
func (w *Writer) EmitGroup(g manifestfmt.AccessReportGroup) error {
	for _, r := range g.Reports {
		if err := w.Emit(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFramed(framed []byte) error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	fd := int(f.Fd())

	_, writeErr := f.Write(framed)
	closeErr := f.Close()

	if w.onFDReused != nil {
		w.onFDReused(fd)
	}

	if writeErr != nil {
		return writeErr
	}
	return closeErr
}
