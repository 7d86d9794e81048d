package kfmt

import (
	"os"

	"silverbox/kernel"
)

var (
	// haltFn terminates the init server. It is mocked by tests.
	haltFn = func() { os.Exit(1) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the active output sink
// and halts the init server. Panic is the landing point for unrecoverable
// invariant violations (double frees, corrupted allocator state) that the
// memory management packages raise with panic(); the top-level entry point
// recovers them and forwards them here.
func Panic(e interface{}) {
	var (
		module  string
		message string
	)

	switch t := e.(type) {
	case *kernel.Error:
		if t != nil {
			module, message = t.Module, t.Message
		}
	case string:
		module, message = errRuntimePanic.Module, t
	case error:
		module, message = errRuntimePanic.Module, t.Error()
	case nil:
	default:
		module, message = errRuntimePanic.Module, errRuntimePanic.Message
	}

	Printf("\n-----------------------------------\n")
	if message != "" {
		Printf("[%s] unrecoverable error: %s\n", module, message)
	}
	Printf("*** init server panic: halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}
