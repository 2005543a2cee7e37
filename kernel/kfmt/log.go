// Package kfmt provides the kernel's output plumbing: structured logging that
// can be used before a console exists, line prefixing for diagnostic dumps
// and the kernel panic path.
package kfmt

import (
	"io"
	"log/slog"

	"github.com/redox-os/redox-sub002/kernel/sync"
)

var (
	// earlyPrintBuffer captures log output until SetOutputSink is called.
	earlyPrintBuffer ringBuffer

	// outputSink receives all log output. While nil, output is redirected
	// to earlyPrintBuffer.
	outputSink io.Writer
	sinkLock   sync.Spinlock

	logLevel = new(slog.LevelVar)
	root     = slog.New(slog.NewTextHandler(sinkWriter{}, &slog.HandlerOptions{Level: logLevel}))
)

// sinkWriter forwards writes to the active output sink.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}

// SetOutputSink sets the target for all log output to w and replays any
// output accumulated in the early buffer. Passing nil switches back to
// buffering.
func SetOutputSink(w io.Writer) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// SetLevel sets the minimum level of records emitted by every logger
// returned by Logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// Logger returns a logger whose records are tagged with the given module
// name, mirroring the Module field of kernel.Error.
func Logger(module string) *slog.Logger {
	return root.With("module", module)
}
