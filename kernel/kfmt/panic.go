package kfmt

import "github.com/redox-os/redox-sub002/kernel"

var (
	// panicFn aborts the current task. Tests replace it to observe the
	// error without unwinding.
	panicFn = func(err *kernel.Error) { panic(err) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic logs the supplied error (if not nil) and aborts execution. Calls to
// Panic never return. It accepts a *kernel.Error, a string or an error.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	if err != nil {
		root.Error("unrecoverable error", "module", err.Module, "err", err.Message)
	} else {
		err = errRuntimePanic
	}
	root.Error("kernel panic: system halted")

	panicFn(err)
}
