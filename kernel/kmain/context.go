package kmain

import (
	"silverbox/kernel"
	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/heap"
	"silverbox/kernel/mm/physmem"
	"silverbox/kernel/mm/pmm"
	"silverbox/kernel/mm/vmm"
)

// Context owns the memory management state of the init server.
type Context struct {
	Info      *multiboot.Info
	MemoryMap multiboot.MemoryMap

	// Modules lists the images loaded by the boot loader next to the init
	// server; their frames are never handed out by Frames.
	Modules []multiboot.Module

	Frames *pmm.Allocator
	Spaces *vmm.Registry
	Tables *vmm.PageTables

	// InitSpace is the address space of the init thread.
	InitSpace *vmm.AddrSpace
	Heap      *heap.Heap

	faults vmm.FaultResolver
	mem    physmem.Memory
}

// setupInitSpace registers the address space of the init thread, reserves
// its null page and sets up the heap window.
func (c *Context) setupInitSpace(cfg Config) *kernel.Error {
	space := vmm.NewAddrSpace(cfg.InitRoot)
	if _, err := space.MapFixed(0, vmm.BackingPage{}, vmm.MapGuard, mm.PageSize); err != nil {
		return err
	}

	if err := c.Spaces.Register(space); err != nil {
		return err
	}

	if err := c.Spaces.AttachThread(cfg.InitRoot, cfg.InitThread); err != nil {
		return err
	}

	h, err := heap.New(space, c.Frames, c.Tables, c.mem, cfg.HeapStart, cfg.HeapLimit)
	if err != nil {
		return err
	}

	c.InitSpace, c.Heap = space, h
	return nil
}

// Memory returns the physical memory provider.
func (c *Context) Memory() physmem.Memory {
	return c.mem
}

// HandlePageFault resolves a page fault raised by thread tid. Faults that
// cannot be resolved are logged together with a diagnostic dump and
// returned to the caller which decides the fate of the thread.
func (c *Context) HandlePageFault(tid vmm.ThreadID, addr mm.VAddr, code vmm.FaultCode) *vmm.FaultError {
	err := c.faults.HandleFault(tid, addr, code)
	if err != nil {
		kfmt.Printf("[kmain] unresolved page fault in thread %d\n", uint64(tid))
		vmm.DumpFault(kfmt.GetOutputSink(), tid, err, code)
	}

	return err
}

// Close releases the physical memory provider if it holds host resources.
func (c *Context) Close() *kernel.Error {
	if closer, ok := c.mem.(interface{ Close() *kernel.Error }); ok {
		return closer.Close()
	}

	return nil
}
