// Package heap implements the break-based heap of the init server.
//
// The heap occupies a fixed virtual window [start, limit) of an address
// space. Pages below the page-rounded break are backed by frames taken from
// the physical allocator; the remainder of the window is kept reserved by a
// guard mapping so that no other mapping can be placed inside it and stray
// accesses past the break fault as guard page violations.
package heap

import (
	"silverbox/kernel"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/physmem"
	"silverbox/kernel/mm/vmm"
	"silverbox/kernel/sync"
)

var (
	// ErrHeapExhausted is returned when growing the heap would move the
	// break past the end of the heap window.
	ErrHeapExhausted = &kernel.Error{Module: "heap", Message: "heap window exhausted"}

	errHeapUnderflow       = &kernel.Error{Module: "heap", Message: "heap break cannot move below the start of the heap"}
	errInvalidHeapWindow   = &kernel.Error{Module: "heap", Message: "heap window must be page aligned and non-empty"}
	errHeapNotInitialized  = &kernel.Error{Module: "heap", Message: "heap used before initialization"}
	errHeapMappingMismatch = &kernel.Error{Module: "heap", Message: "heap window mappings are inconsistent"}
)

// heapFlags are the flags of the mapping covering the committed part of the
// heap window.
const heapFlags = vmm.MapNoExecute | vmm.MapPresent

// Heap manages a break-based heap. The zero value is not usable; Heap values
// must be created with New.
type Heap struct {
	lock sync.Spinlock

	space  *vmm.AddrSpace
	frames vmm.FrameAllocator
	mapper vmm.Mapper
	mem    physmem.Memory

	start mm.VAddr
	limit mm.VAddr

	// brk is the current break. committed is brk rounded up to a page
	// boundary; every page in [start, committed) is backed by a frame.
	brk       mm.VAddr
	committed mm.VAddr
}

// New sets up a heap that occupies [start, limit) in space. Both addresses
// must be page aligned. The heap starts out empty with its break at start.
func New(space *vmm.AddrSpace, frames vmm.FrameAllocator, mapper vmm.Mapper, mem physmem.Memory, start, limit mm.VAddr) (*Heap, *kernel.Error) {
	pageSize := mm.VAddr(mm.PageSize)
	if limit <= start || !mm.IsAligned(start, pageSize) || !mm.IsAligned(limit, pageSize) {
		return nil, errInvalidHeapWindow
	}

	if _, err := space.MapFixed(start, vmm.BackingPage{}, vmm.MapGuard, mm.Size(limit-start)); err != nil {
		return nil, err
	}

	return &Heap{
		space:     space,
		frames:    frames,
		mapper:    mapper,
		mem:       mem,
		start:     start,
		limit:     limit,
		brk:       start,
		committed: start,
	}, nil
}

// Start returns the first address of the heap window.
func (h *Heap) Start() mm.VAddr {
	return h.start
}

// Limit returns the end of the heap window.
func (h *Heap) Limit() mm.VAddr {
	return h.limit
}

// Break returns the current break.
func (h *Heap) Break() mm.VAddr {
	h.lock.Acquire()
	defer h.lock.Release()

	return h.brk
}

// Committed returns the number of bytes backed by physical frames.
func (h *Heap) Committed() mm.Size {
	h.lock.Acquire()
	defer h.lock.Release()

	return mm.Size(h.committed - h.start)
}

// Sbrk moves the break by delta bytes and returns the previous break. Pages
// that become part of the heap are backed by zeroed frames; pages that are
// no longer part of it are unmapped and their frames are released. If the
// heap cannot grow the break is left unchanged.
func (h *Heap) Sbrk(delta int) (mm.VAddr, *kernel.Error) {
	if h.space == nil {
		panic(errHeapNotInitialized)
	}

	h.lock.Acquire()
	defer h.lock.Release()

	prev := h.brk
	target := int64(prev) + int64(delta)
	switch {
	case target < int64(h.start):
		return prev, errHeapUnderflow
	case target > int64(h.limit):
		return prev, ErrHeapExhausted
	}

	newBrk := mm.VAddr(target)
	newCommitted := mm.VAddr(mm.AlignUp(uint64(newBrk), uint64(mm.PageSize)))

	switch {
	case newCommitted > h.committed:
		if err := h.grow(newCommitted); err != nil {
			kfmt.Printf("[heap] unable to grow heap by %d bytes: %s\n", delta, err.Message)
			return prev, err
		}
	case newCommitted < h.committed:
		if err := h.shrink(newCommitted); err != nil {
			return prev, err
		}
	}

	h.brk = newBrk
	return prev, nil
}

// grow backs the pages in [committed, end) with zeroed frames. On failure
// the pages installed so far are removed again.
func (h *Heap) grow(end mm.VAddr) *kernel.Error {
	var (
		root      = h.space.Root()
		pageFlags = heapFlags.PageFlags()
		first     = mm.PageFromAddress(h.committed)
		last      = mm.PageFromAddress(end)
	)

	for page := first; page < last; page++ {
		frame, err := h.frames.AllocFrame()
		if err == nil {
			if err = physmem.Zero(h.mem, frame.Address(), mm.PageSize); err == nil {
				err = h.mapper.Map(root, page, frame, pageFlags)
			}

			if err != nil {
				h.frames.ReleaseFrame(frame)
			}
		}

		if err != nil {
			h.releasePages(first, page)
			return err
		}
	}

	h.reshape(end)
	return nil
}

// shrink unmaps the pages in [end, committed) and releases their frames.
func (h *Heap) shrink(end mm.VAddr) *kernel.Error {
	if err := h.releasePages(mm.PageFromAddress(end), mm.PageFromAddress(h.committed)); err != nil {
		return err
	}

	h.reshape(end)
	return nil
}

// releasePages unmaps the pages in [first, last) and hands their frames back
// to the frame allocator. Frames are discarded first if the physical memory
// provider supports it.
func (h *Heap) releasePages(first, last mm.Page) *kernel.Error {
	root := h.space.Root()
	discarder, canDiscard := h.mem.(physmem.Discarder)

	for page := first; page < last; page++ {
		frame, _, err := h.mapper.Translate(root, page)
		if err != nil {
			return err
		}

		if err = h.mapper.Unmap(root, page); err != nil {
			return err
		}

		if canDiscard {
			if err = discarder.Discard(frame.Address(), mm.PageSize); err != nil {
				kfmt.Printf("[heap] unable to discard frame 0x%x: %s\n", uint64(frame), err.Message)
			}
		}

		h.frames.ReleaseFrame(frame)
	}

	return nil
}

// reshape updates the mappings that describe the heap window so that
// [start, end) is covered by the heap mapping and [end, limit) by the guard
// mapping.
func (h *Heap) reshape(end mm.VAddr) {
	if h.committed > h.start {
		h.mustSucceed(h.space.Unmap(h.start, mm.Size(h.committed-h.start)))
	}
	if h.committed < h.limit {
		h.mustSucceed(h.space.Unmap(h.committed, mm.Size(h.limit-h.committed)))
	}

	if end > h.start {
		_, err := h.space.MapFixed(h.start, vmm.BackingPage{Device: vmm.DeviceZero}, heapFlags, mm.Size(end-h.start))
		h.mustSucceed(err)
	}
	if end < h.limit {
		_, err := h.space.MapFixed(end, vmm.BackingPage{}, vmm.MapGuard, mm.Size(h.limit-end))
		h.mustSucceed(err)
	}

	h.committed = end
}

// mustSucceed panics if the heap window mappings could not be updated. The
// heap owns its window exclusively so such a failure means another component
// modified the window behind the heap's back.
func (h *Heap) mustSucceed(err *kernel.Error) {
	if err != nil {
		kfmt.Printf("[heap] %s\n", err.Message)
		panic(errHeapMappingMismatch)
	}
}
