// Package physmem provides scoped access to physical memory.
//
// Physical memory is never accessed through raw pointers. Code that needs to
// read or write a physical range opens a Window onto it, uses the byte slice
// the window exposes and closes it again. WithWindow guarantees the window is
// closed on every exit path.
package physmem

import (
	"silverbox/kernel"
	"silverbox/kernel/mm"
)

var (
	errWindowClosed = &kernel.Error{Module: "physmem", Message: "access through a closed window"}
)

// Memory is implemented by providers of physical memory windows.
type Memory interface {
	// Window makes [addr, addr+size) accessible until the returned
	// window is closed.
	Window(addr mm.PAddr, size mm.Size) (*Window, *kernel.Error)
}

// Discarder is implemented by Memory providers that can drop the contents
// of a physical range that is no longer in use.
type Discarder interface {
	Discard(addr mm.PAddr, size mm.Size) *kernel.Error
}

// Window is a transient mapping of a physical memory range.
type Window struct {
	addr    mm.PAddr
	buf     []byte
	closeFn func()
}

// NewWindow returns a window exposing buf as the contents of the physical
// range starting at addr. closeFn, if not nil, runs once when the window is
// closed.
func NewWindow(addr mm.PAddr, buf []byte, closeFn func()) *Window {
	return &Window{addr: addr, buf: buf, closeFn: closeFn}
}

// Addr returns the physical address of the first byte of the window.
func (w *Window) Addr() mm.PAddr {
	return w.addr
}

// Len returns the size of the window in bytes.
func (w *Window) Len() int {
	return len(w.buf)
}

// Bytes returns the contents of the window. The slice must not be used
// after the window is closed. Bytes panics if the window is already closed.
func (w *Window) Bytes() []byte {
	if w.buf == nil {
		panic(errWindowClosed)
	}

	return w.buf
}

// Close releases the window. Closing a window more than once has no effect.
func (w *Window) Close() {
	if w.buf == nil {
		return
	}

	w.buf = nil
	if w.closeFn != nil {
		w.closeFn()
	}
}

// WithWindow opens a window onto [addr, addr+size), invokes fn with it and
// closes the window once fn returns or panics.
func WithWindow(mem Memory, addr mm.PAddr, size mm.Size, fn func(w *Window) *kernel.Error) *kernel.Error {
	w, err := mem.Window(addr, size)
	if err != nil {
		return err
	}
	defer w.Close()

	return fn(w)
}

// Zero clears the physical range [addr, addr+size).
func Zero(mem Memory, addr mm.PAddr, size mm.Size) *kernel.Error {
	return WithWindow(mem, addr, size, func(w *Window) *kernel.Error {
		buf := w.Bytes()
		for i := range buf {
			buf[i] = 0
		}
		return nil
	})
}
