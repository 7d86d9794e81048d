//go:build unix

package physmem

import (
	"golang.org/x/sys/unix"

	"silverbox/kernel"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/sync"
)

var (
	errArenaMap     = &kernel.Error{Module: "physmem", Message: "unable to reserve the arena address range"}
	errArenaProtect = &kernel.Error{Module: "physmem", Message: "unable to change the arena page protection"}
	errArenaDiscard = &kernel.Error{Module: "physmem", Message: "unable to discard arena pages"}
	errArenaUnmap   = &kernel.Error{Module: "physmem", Message: "unable to release the arena address range"}
	errArenaClosed  = &kernel.Error{Module: "physmem", Message: "arena is closed"}
	errOutsideArena = &kernel.Error{Module: "physmem", Message: "physical range is outside the arena"}
	errWindowsOpen  = &kernel.Error{Module: "physmem", Message: "arena still has open windows"}
)

// Arena emulates the physical memory range [base, base+size) with an
// anonymous host mapping. The whole range is reserved PROT_NONE up front so
// it has no memory footprint; host pages become readable and writable only
// while at least one window covers them, so a stray access outside a window
// faults.
type Arena struct {
	lock sync.Spinlock

	base mm.PAddr
	mem  []byte

	hostPageSize int

	// refs counts the open windows covering each host page.
	refs []uint32

	openWindows int
}

// NewArena reserves a host mapping that stands in for the physical range
// [base, base+size).
func NewArena(base mm.PAddr, size mm.Size) (*Arena, *kernel.Error) {
	hostPageSize := unix.Getpagesize()
	length := int(mm.AlignUp(uint64(size), uint64(hostPageSize)))

	mem, err := unix.Mmap(-1, 0, length, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		kfmt.Printf("[physmem] mmap of %d bytes failed: %s\n", length, err.Error())
		return nil, errArenaMap
	}

	return &Arena{
		base:         base,
		mem:          mem[:size],
		hostPageSize: hostPageSize,
		refs:         make([]uint32, length/hostPageSize),
	}, nil
}

// Base returns the first physical address emulated by the arena.
func (a *Arena) Base() mm.PAddr {
	return a.base
}

// Size returns the size of the emulated physical range.
func (a *Arena) Size() mm.Size {
	return mm.Size(len(a.mem))
}

// OpenWindows returns the number of windows that have not been closed yet.
func (a *Arena) OpenWindows() int {
	a.lock.Acquire()
	defer a.lock.Release()

	return a.openWindows
}

// offsets converts a physical range into arena offsets.
func (a *Arena) offsets(addr mm.PAddr, size mm.Size) (int, int, *kernel.Error) {
	if a.mem == nil {
		return 0, 0, errArenaClosed
	}

	if addr < a.base || size > mm.Size(len(a.mem)) || uint64(addr-a.base) > uint64(len(a.mem))-uint64(size) {
		return 0, 0, errOutsideArena
	}

	start := int(addr - a.base)
	return start, start + int(size), nil
}

// hostPages returns the host pages touched by the arena range [start, end).
func (a *Arena) hostPages(start, end int) (int, int) {
	return start / a.hostPageSize, (end + a.hostPageSize - 1) / a.hostPageSize
}

// protect applies prot to the host pages [first, last).
func (a *Arena) protect(first, last, prot int) *kernel.Error {
	if first >= last {
		return nil
	}

	if err := unix.Mprotect(a.mem[first*a.hostPageSize:a.pageEnd(last)], prot); err != nil {
		kfmt.Printf("[physmem] mprotect failed: %s\n", err.Error())
		return errArenaProtect
	}

	return nil
}

// pageEnd returns the arena offset where host page last-1 ends, clamped to
// the slice capacity.
func (a *Arena) pageEnd(last int) int {
	end := last * a.hostPageSize
	if end > cap(a.mem) {
		end = cap(a.mem)
	}
	return end
}

// Window implements Memory. Host pages that are not covered by another open
// window are made accessible for the lifetime of the returned window.
func (a *Arena) Window(addr mm.PAddr, size mm.Size) (*Window, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	start, end, err := a.offsets(addr, size)
	if err != nil {
		return nil, err
	}

	first, last := a.hostPages(start, end)

	// Unprotect runs of pages that are not already accessible.
	for page := first; page < last; {
		if a.refs[page] != 0 {
			page++
			continue
		}

		runEnd := page
		for runEnd < last && a.refs[runEnd] == 0 {
			runEnd++
		}

		if err = a.protect(page, runEnd, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return nil, err
		}
		page = runEnd
	}

	for page := first; page < last; page++ {
		a.refs[page]++
	}
	a.openWindows++

	return NewWindow(addr, a.mem[start:end:end], func() { a.closeWindow(first, last) }), nil
}

func (a *Arena) closeWindow(first, last int) {
	a.lock.Acquire()
	defer a.lock.Release()

	a.openWindows--
	for page := first; page < last; page++ {
		a.refs[page]--
		if a.refs[page] == 0 {
			// Failing to re-protect a page only weakens stray access
			// detection; the window is closed either way.
			_ = a.protect(page, page+1, unix.PROT_NONE)
		}
	}
}

// Discard implements Discarder. The host pages that lie entirely inside the
// range are returned to the host and read back as zeroes.
func (a *Arena) Discard(addr mm.PAddr, size mm.Size) *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	start, end, err := a.offsets(addr, size)
	if err != nil {
		return err
	}

	first := (start + a.hostPageSize - 1) / a.hostPageSize
	last := end / a.hostPageSize
	if first >= last {
		return nil
	}

	if err := unix.Madvise(a.mem[first*a.hostPageSize:a.pageEnd(last)], unix.MADV_DONTNEED); err != nil {
		kfmt.Printf("[physmem] madvise failed: %s\n", err.Error())
		return errArenaDiscard
	}

	return nil
}

// Close releases the host mapping. It fails if any window is still open.
func (a *Arena) Close() *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	if a.mem == nil {
		return errArenaClosed
	}

	if a.openWindows != 0 {
		return errWindowsOpen
	}

	if err := unix.Munmap(a.mem[:cap(a.mem)]); err != nil {
		kfmt.Printf("[physmem] munmap failed: %s\n", err.Error())
		return errArenaUnmap
	}

	a.mem = nil
	return nil
}
