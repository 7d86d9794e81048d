// Package kmain wires the memory management packages into the context the
// init server runs with.
package kmain

import (
	"github.com/pkg/errors"

	"silverbox/kernel"
	"silverbox/kernel/hal/multiboot"
	"silverbox/kernel/kfmt"
	"silverbox/kernel/mm"
	"silverbox/kernel/mm/pmm"
	"silverbox/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errBadBootInfo   = &kernel.Error{Module: "kmain", Message: "unable to decode the boot information"}
	errNoMemoryMap   = &kernel.Error{Module: "kmain", Message: "boot loader did not provide a memory map"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	newMemoryFn = newPhysMemory
	panicFn     = kfmt.Panic
)

// Config holds the values handed over to the init server by the boot stub.
type Config struct {
	// BootInfo is the multiboot information block.
	BootInfo []byte

	// MemoryMap holds the memory map buffer that BootInfo points to.
	MemoryMap []byte

	// Modules holds the module descriptors that BootInfo points to.
	Modules []byte

	// ImageStart and ImageEnd describe the physical extent of the init
	// server image.
	ImageStart, ImageEnd mm.PAddr

	// InitThread is the id of the thread running the init server and
	// InitRoot the physical address of its root page table.
	InitThread vmm.ThreadID
	InitRoot   mm.PAddr

	// HeapStart and HeapLimit define the virtual window reserved for the
	// init server heap.
	HeapStart, HeapLimit mm.VAddr
}

// Kmain boots the init server and hands the resulting context to serve.
//
// Kmain is not expected to return. Boot failures, invariant violations
// raised by the memory managers and a return from serve all end up in
// kfmt.Panic.
func Kmain(cfg Config, serve func(*Context)) {
	defer func() {
		if err := recover(); err != nil {
			panicFn(err)
		}
	}()

	ctx, err := Boot(cfg)
	if err != nil {
		panic(err)
	}

	serve(ctx)
	panicFn(errKmainReturned)
}

// Boot decodes the boot information, initializes the physical memory
// allocators and sets up the address space and heap of the init thread.
func Boot(cfg Config) (*Context, *kernel.Error) {
	info, decodeErr := multiboot.ParseInfo(cfg.BootInfo)
	if decodeErr != nil {
		return nil, bootInfoError(errors.Wrap(decodeErr, "info block"))
	}

	if !info.Has(multiboot.FlagMemMap) {
		return nil, errNoMemoryMap
	}

	if uint64(len(cfg.MemoryMap)) < uint64(info.MmapLength) {
		return nil, bootInfoError(errors.Errorf("memory map at 0x%x: got %d bytes; expected %d", info.MmapAddr, len(cfg.MemoryMap), info.MmapLength))
	}

	memMap, decodeErr := multiboot.ParseMemoryMap(cfg.MemoryMap[:info.MmapLength])
	if decodeErr != nil {
		return nil, bootInfoError(errors.Wrapf(decodeErr, "memory map at 0x%x", info.MmapAddr))
	}

	var mods []multiboot.Module
	if info.Has(multiboot.FlagModules) && info.ModsCount != 0 {
		if mods, decodeErr = multiboot.ParseModules(cfg.Modules, info.ModsCount); decodeErr != nil {
			return nil, bootInfoError(errors.Wrapf(decodeErr, "module descriptors at 0x%x", info.ModsAddr))
		}
	}

	frames, err := initFrameAllocator(memMap, cfg.ImageStart, cfg.ImageEnd, mods)
	if err != nil {
		return nil, err
	}

	mem, err := newMemoryFn(mm.Size(lowMemoryEnd(memMap)))
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Info:      info,
		MemoryMap: memMap,
		Modules:   mods,
		Frames:    frames,
		Spaces:    vmm.NewRegistry(),
		Tables:    vmm.NewPageTables(),
		mem:       mem,
	}
	ctx.faults = vmm.FaultResolver{
		Spaces: ctx.Spaces,
		Frames: frames,
		Mapper: ctx.Tables,
		Memory: mem,
	}

	if err = ctx.setupInitSpace(cfg); err != nil {
		_ = ctx.Close()
		return nil, err
	}

	kfmt.Printf("[kmain] init server heap at [0x%8x - 0x%8x)\n", uint32(cfg.HeapStart), uint32(cfg.HeapLimit))
	return ctx, nil
}

func bootInfoError(err error) *kernel.Error {
	kfmt.Printf("[kmain] %s\n", err.Error())
	return errBadBootInfo
}

// initFrameAllocator sets up the physical frame allocator. The frames that
// hold the allocator bitmaps are taken from the boot allocator before the
// allocator is built so it never hands them out. Neither allocator hands out
// the frames of the init image or of the boot modules.
func initFrameAllocator(memMap multiboot.MemoryMap, imageStart, imageEnd mm.PAddr, mods []multiboot.Module) (*pmm.Allocator, *kernel.Error) {
	bootAlloc := pmm.NewBootMemAllocator(memMap, imageStart, imageEnd)
	for i, mod := range mods {
		kfmt.Printf("[kmain] boot module %d at [0x%8x - 0x%8x)\n", i, mod.Start, mod.End)
		bootAlloc.Exclude(mm.PAddr(mod.Start), mm.PAddr(mod.End))
	}
	bootAlloc.PrintMemoryMap()

	metaSize, err := pmm.MetadataSize(memMap)
	if err != nil {
		return nil, err
	}

	for reserved := mm.Size(0); reserved < metaSize; reserved += mm.PageSize {
		if _, err = bootAlloc.AllocFrame(); err != nil {
			return nil, err
		}
	}

	frames, err := pmm.New(memMap, bootAlloc.Reserved())
	if err != nil {
		return nil, err
	}

	frames.PrintStats()
	return frames, nil
}

// lowMemoryEnd returns the end of the highest available region below 4 GiB.
func lowMemoryEnd(memMap multiboot.MemoryMap) mm.PAddr {
	var end mm.PAddr
	memMap.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable || entry.PhysAddress >= uint64(mm.HighMemoryBase) {
			return true
		}

		regionEnd := mm.HighMemoryBase
		if entry.Length < uint64(mm.HighMemoryBase)-entry.PhysAddress {
			regionEnd = mm.PAddr(entry.PhysAddress + entry.Length)
		}
		if regionEnd > end {
			end = regionEnd
		}
		return true
	})

	return mm.AlignUp(end, mm.PAddr(mm.PageSize))
}
